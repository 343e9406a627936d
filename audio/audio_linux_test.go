//go:build linux

package audio

import "testing"

func TestSourceDevice(t *testing.T) {
	tests := []struct {
		id       string
		channels int
		want     bool
	}{
		{"alsa_input.usb-Blue_Yeti-00.analog-stereo", 2, true},
		{"alsa_output.pci-0000_00_1f.3.analog-stereo.monitor", 2, false},
		{"bluez_input.00_1B_66_AA_BB_CC.0", 1, true},
	}
	for _, tt := range tests {
		d, ok := sourceDevice(tt.id, "Some Device", tt.channels)
		if ok != tt.want {
			t.Errorf("sourceDevice(%q) ok = %v, want %v", tt.id, ok, tt.want)
			continue
		}
		if ok && (d.ID != tt.id || d.Channels != tt.channels || d.Name != "Some Device") {
			t.Errorf("sourceDevice(%q) = %+v", tt.id, d)
		}
	}
}
