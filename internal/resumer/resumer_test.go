package resumer

import "testing"

type fakeResumer struct{}

func (fakeResumer) Write(Spec) error          { return nil }
func (fakeResumer) WriteBitfield([]byte) error { return nil }
func (fakeResumer) WriteStats(Stats) error    { return nil }
func (fakeResumer) WriteStarted(bool) error    { return nil }
func (fakeResumer) Read() (Spec, error)       { return Spec{}, nil }

func TestFakeResumerSatisfiesInterface(t *testing.T) {
	var _ Resumer = fakeResumer{}
}
