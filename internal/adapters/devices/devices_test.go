package devices

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/dkeye/Telecare/internal/domain"
	"github.com/pion/mediadevices"
)

func TestPickCamera(t *testing.T) {
	front := mediadevices.MediaDeviceInfo{DeviceID: "front", Kind: mediadevices.VideoInput, Label: "Integrated Camera"}
	rear := mediadevices.MediaDeviceInfo{DeviceID: "rear", Kind: mediadevices.VideoInput, Label: "Rear Camera"}
	second := mediadevices.MediaDeviceInfo{DeviceID: "usb", Kind: mediadevices.VideoInput, Label: "USB Webcam"}
	mic := mediadevices.MediaDeviceInfo{DeviceID: "mic", Kind: mediadevices.AudioInput, Label: "Mic"}

	tests := []struct {
		name        string
		devices     []mediadevices.MediaDeviceInfo
		environment bool
		want        string
		ok          bool
	}{
		{"no cameras", []mediadevices.MediaDeviceInfo{mic}, false, "", false},
		{"front by default", []mediadevices.MediaDeviceInfo{mic, front, rear}, false, "front", true},
		{"rear by label", []mediadevices.MediaDeviceInfo{front, rear}, true, "rear", true},
		{"second camera as environment", []mediadevices.MediaDeviceInfo{front, second}, true, "usb", true},
		{"single camera has no environment", []mediadevices.MediaDeviceInfo{front}, true, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickCamera(tt.devices, tt.environment)
			if got != tt.want || ok != tt.ok {
				t.Errorf("pickCamera() = %q, %v, want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if err := classify(fmt.Errorf("open /dev/video0: %w", os.ErrPermission)); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("err = %v, want permission denied", err)
	}
	if err := classify(errors.New("failed to find the best driver")); !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Errorf("err = %v, want device unavailable", err)
	}
}
