package audio

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"xinchao/apperr"
)

// FindDevice resolves a capture device by name. An exact match wins over a
// case-insensitive substring match.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", errors.Join(apperr.ErrDeviceUnavailable, err))
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	needle := strings.ToLower(name)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), needle) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("microphone %q: %w", name, apperr.ErrDeviceUnavailable)
}

type pickerAction int

const (
	pickNone pickerAction = iota
	pickUp
	pickDown
	pickConfirm
	pickCancel
	pickInterrupt
)

// pickerKey maps one raw terminal read to a picker action.
func pickerKey(buf []byte) pickerAction {
	switch {
	case len(buf) == 1:
		switch buf[0] {
		case '\r', '\n':
			return pickConfirm
		case 3:
			return pickInterrupt
		case 0x1b, 'q':
			return pickCancel
		case 'j':
			return pickDown
		case 'k':
			return pickUp
		}
	case len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[':
		switch buf[2] {
		case 'A':
			return pickUp
		case 'B':
			return pickDown
		}
	}
	return pickNone
}

// renderPicker draws the device list. The active device is marked so the
// learner can see which microphone is live before switching.
func renderPicker(devices []DeviceInfo, cursor int, current string) string {
	var b strings.Builder
	b.WriteString("\r\x1b[J")
	b.WriteString("Chọn micro / select microphone (↑/↓, Enter, Esc to keep current):\r\n\r\n")
	for i, d := range devices {
		tag := ""
		if d.Name == current {
			tag += " (in use)"
		}
		if IsBluetooth(d.Name) {
			tag += " \x1b[33m[bluetooth: lower quality]\x1b[0m"
		}
		if i == cursor {
			fmt.Fprintf(&b, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
		} else {
			fmt.Fprintf(&b, "    %s%s\r\n", d.Name, tag)
		}
	}
	return b.String()
}

// SelectDevice runs an interactive picker on the raw terminal with the
// cursor starting on current. It returns nil when the user cancels.
func SelectDevice(ctx Context, current string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", errors.Join(apperr.ErrDeviceUnavailable, err))
	}
	switch len(devices) {
	case 0:
		return nil, fmt.Errorf("no capture devices found: %w", apperr.ErrDeviceUnavailable)
	case 1:
		return &devices[0], nil
	}

	cursor := 0
	for i := range devices {
		if devices[i].Name == current {
			cursor = i
		}
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	fmt.Print(renderPicker(devices, cursor, current))
	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch pickerKey(buf[:n]) {
		case pickConfirm:
			fmt.Print("\r\n")
			return &devices[cursor], nil
		case pickCancel:
			fmt.Print("\r\n")
			return nil, nil
		case pickInterrupt:
			fmt.Print("\r\n")
			term.Restore(fd, oldState)
			os.Exit(130)
		case pickUp:
			cursor = max(cursor-1, 0)
		case pickDown:
			cursor = min(cursor+1, len(devices)-1)
		}
		fmt.Printf("\x1b[%dA", len(devices)+2)
		fmt.Print(renderPicker(devices, cursor, current))
	}
}
