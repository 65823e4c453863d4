package flac

import "testing"

func TestNewUnopenedDecoderClose(t *testing.T) {
	d := New("nonexistent.flac")
	if err := d.Close(); err != nil {
		t.Errorf("Close on unopened decoder failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	d := New("does-not-exist.flac")
	if err := d.Open(); err == nil {
		t.Error("expected error opening a missing file")
	}
}

func TestFrameLengthBeforeOpen(t *testing.T) {
	d := New("nonexistent.flac")
	if got := d.FrameLength(); got != -1 {
		t.Errorf("FrameLength before Open: got %d, want -1 (FrameUnknown)", got)
	}
}
