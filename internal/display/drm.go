package display

import (
	"os"
	"path/filepath"
	"strings"
)

var externalConnectors = []string{"HDMI", "DP", "DisplayPort", "DVI", "VGA"}

// DRM scans /sys/class/drm connectors for a connected external output.
type DRM struct {
	root string
}

func NewDRM(root string) *DRM {
	return &DRM{root: root}
}

func (d *DRM) ExternalDisplay() bool {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return false
	}

	for _, e := range entries {
		if !isExternalConnector(e.Name()) {
			continue
		}
		status, err := os.ReadFile(filepath.Join(d.root, e.Name(), "status"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(status)) == "connected" {
			return true
		}
	}

	return false
}

// isExternalConnector matches names like card0-HDMI-A-1 or card1-DP-2;
// eDP is the internal panel.
func isExternalConnector(name string) bool {
	_, connector, ok := strings.Cut(name, "-")
	if !ok {
		return false
	}
	for _, prefix := range externalConnectors {
		if strings.HasPrefix(connector, prefix) {
			return true
		}
	}
	return false
}
