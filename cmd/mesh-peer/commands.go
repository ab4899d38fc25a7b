package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/chat"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/mesh"
)

var errLeave = errors.New("leave requested")

// controller is the part of *mesh.Session the command loop drives.
type controller interface {
	SetVideo(enabled bool) error
	SetAudio(enabled bool) error
	SetScreen(enabled bool) error
	SendChat(body string) error
	MarkRead() error
	View() (mesh.RoomView, error)
	Messages() ([]chat.Message, error)
}

var _ controller = (*mesh.Session)(nil)

const helpText = `commands:
  video on|off    toggle the camera track
  audio on|off    toggle the microphone track
  screen on|off   toggle screen sharing (sent on the video slot)
  chat <text>     send a chat message to the room
  read            print the chat log and mark it read
  status          print the room view
  leave           leave the room and exit
`

// runCommands reads one command per line until in is exhausted or leave is
// entered, in which case it returns errLeave. Command errors are printed and
// the loop continues.
func runCommands(in io.Reader, out io.Writer, c controller) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		err := execute(strings.TrimSpace(sc.Text()), out, c)
		switch {
		case errors.Is(err, errLeave), mesh.IsClosed(err):
			return err
		case err != nil:
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return sc.Err()
}

func execute(line string, out io.Writer, c controller) error {
	if line == "" {
		return nil
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "video", "audio", "screen":
		enabled, err := parseToggle(arg)
		if err != nil {
			return err
		}
		switch strings.ToLower(cmd) {
		case "video":
			return c.SetVideo(enabled)
		case "audio":
			return c.SetAudio(enabled)
		default:
			return c.SetScreen(enabled)
		}
	case "chat":
		if arg == "" {
			return errors.New("usage: chat <text>")
		}
		return c.SendChat(arg)
	case "read":
		msgs, err := c.Messages()
		if err != nil {
			return err
		}
		for _, m := range msgs {
			who := m.Sender
			if m.Local {
				who += " (you)"
			}
			fmt.Fprintf(out, "[%s] %s: %s\n", m.ReceivedAt.Format("15:04:05"), who, m.Body)
		}
		return c.MarkRead()
	case "status":
		v, err := c.View()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, describeView(v))
		return nil
	case "help", "?":
		fmt.Fprint(out, helpText)
		return nil
	case "leave", "quit", "exit":
		return errLeave
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func parseToggle(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", arg)
}

// describeView renders a one-line summary of the room.
func describeView(v mesh.RoomView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "status=%s self=%s", v.Status, v.Self)
	fmt.Fprintf(&b, " video=%t audio=%t screen=%t unread=%d", v.Media.Video, v.Media.Audio, v.Media.Screen, v.Unread)
	fmt.Fprintf(&b, " peers=%d", len(v.Peers))
	for _, p := range v.Peers {
		fmt.Fprintf(&b, " [%s %s connected=%t tracks=%d]", p.ID, p.State, p.Connected, len(p.Tracks))
	}
	return b.String()
}
