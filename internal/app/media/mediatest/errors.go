package mediatest

import (
	"fmt"

	"github.com/dkeye/Telecare/internal/domain"
)

var errNoCamera = fmt.Errorf("camera: %w", domain.ErrDeviceUnavailable)
