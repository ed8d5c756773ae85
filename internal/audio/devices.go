package audio

import (
	"bufio"
	"os"
	"runtime"
	"strings"
)

const alsaCardsPath = "/proc/asound/cards"

// AlsaEnumerator lists sound cards from the kernel's ALSA registry so the
// device monitor can notice hot-plugged outputs. On platforms without ALSA
// it reports a single static device, which means no change events.
type AlsaEnumerator struct{}

func (AlsaEnumerator) OutputDevices() ([]string, error) {
	if runtime.GOOS != "linux" {
		return []string{"default"}, nil
	}

	f, err := os.Open(alsaCardsPath)
	if err != nil {
		return []string{"default"}, nil
	}
	defer f.Close()

	var devices []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		// Card lines look like " 0 [PCH            ]: HDA-Intel - HDA Intel PCH".
		if !strings.Contains(line, "]:") {
			continue
		}
		open := strings.Index(line, "[")
		end := strings.Index(line, "]")
		if open == -1 || end <= open {
			continue
		}
		name := strings.TrimSpace(line[open+1 : end])
		if name != "" {
			devices = append(devices, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		devices = []string{"default"}
	}
	return devices, nil
}
