// Package console is the interactive terminal host. Each input line is one
// interaction; replies stream to the terminal as they arrive.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/casualjim/garden/messages"
	"github.com/casualjim/garden/pkg/slogx"
	"github.com/casualjim/garden/provider"
	"github.com/casualjim/garden/registry"
	"github.com/casualjim/garden/session"
	"github.com/casualjim/garden/turn"
	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/k0kubun/pp/v3"
)

// Controller is the turn controller as the console drives it.
type Controller interface {
	Start(ctx context.Context, identity turn.Identity) (*session.State, error)
	State(ctx context.Context, id string) (*session.State, error)
	Execute(ctx context.Context, id string, action turn.Action, p turn.Presenter) (*session.State, error)
	Drive(ctx context.Context, id string, action turn.Action, p turn.Presenter) (*session.State, error)
}

// Models lists the selectable models in display order.
type Models interface {
	Descriptors() []registry.ModelDescriptor
}

type Console struct {
	ctrl   Controller
	models Models
	out    io.Writer
	glam   *glamour.TermRenderer
	dump   *pp.PrettyPrinter

	sessionID string
}

// New creates a console writing to out.
func New(ctrl Controller, models Models, out io.Writer) (*Console, error) {
	glam, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil, err
	}
	dump := pp.New()
	dump.SetOutput(out)
	dump.SetColoringEnabled(!color.NoColor)
	return &Console{ctrl: ctrl, models: models, out: out, glam: glam, dump: dump}, nil
}

// Run starts a session for identity and reads lines from in until EOF or /quit.
func (c *Console) Run(ctx context.Context, identity turn.Identity, in io.Reader) error {
	st, err := c.ctrl.Start(ctx, identity)
	if err != nil {
		return err
	}
	c.sessionID = st.ID
	fmt.Fprintf(c.out, "%s %s\n", color.GreenString("Model:"), st.ModelKey)
	c.printConversation(st)

	if st.Phase == session.UserMessageRecorded {
		if err := c.respond(ctx, nil, st.Streaming); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprintf(c.out, "%s: ", color.CyanString("User"))
		if !scanner.Scan() {
			fmt.Fprintln(c.out, "Exiting...")
			return scanner.Err()
		}
		quit, err := c.Handle(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(c.out, "%s %v\n", color.RedString("!"), err)
		}
		if quit {
			return nil
		}
	}
}

// Handle runs one input line: a slash command or a message to the model.
func (c *Console) Handle(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if strings.EqualFold(line, "exit") {
		return true, nil
	}
	if !strings.HasPrefix(line, "/") {
		st, err := c.ctrl.State(ctx, c.sessionID)
		if err != nil {
			return false, err
		}
		return false, c.respond(ctx, turn.Submit{Text: line}, st.Streaming)
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "quit", "exit":
		return true, nil
	case "help":
		c.help()
		return false, nil
	case "models":
		return false, c.listModels(ctx)
	case "model":
		return false, c.selectModel(ctx, arg)
	case "temp":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return false, fmt.Errorf("usage: /temp <0..1>")
		}
		return false, c.apply(ctx, turn.SetTemperature{Value: v}, fmt.Sprintf("temperature set to %.2f", v))
	case "stream":
		on, err := parseToggle(arg)
		if err != nil {
			return false, err
		}
		return false, c.apply(ctx, turn.SetStreaming{Enabled: on}, "streaming "+arg)
	case "persona":
		persona, instructions, _ := strings.Cut(arg, " ")
		if persona == "" {
			return false, fmt.Errorf("usage: /persona <%s> [instructions]", strings.Join(turn.Personalities(), "|"))
		}
		return false, c.apply(ctx, turn.SetPersonality{Name: persona, Instructions: instructions}, "personality set to "+persona)
	case "image":
		data, mimeType, err := readAttachment(arg)
		if err != nil {
			return false, err
		}
		return false, c.apply(ctx, turn.StageImage{Data: data, MIMEType: mimeType}, "image attached to the next message")
	case "audio":
		data, mimeType, err := readAttachment(arg)
		if err != nil {
			return false, err
		}
		return false, c.apply(ctx, turn.StageAudio{Data: data, MIMEType: mimeType}, "audio attached to the next message")
	case "clear":
		return false, c.apply(ctx, turn.Clear{}, "history cleared")
	case "new":
		return false, c.apply(ctx, turn.NewConversation{}, "new conversation")
	case "state":
		st, err := c.ctrl.State(ctx, c.sessionID)
		if err != nil {
			return false, err
		}
		c.dump.Println(st)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command /%s, try /help", name)
	}
}

// respond runs a whole turn and prints the reply. Streamed replies are printed as
// they arrive; complete replies are rendered as markdown.
func (c *Console) respond(ctx context.Context, action turn.Action, streaming bool) error {
	fmt.Fprintf(c.out, "%s: ", color.MagentaString("Assistant"))
	var buffered strings.Builder
	present := turn.PresenterFunc(func(fragment string) {
		if streaming {
			fmt.Fprint(c.out, fragment)
			return
		}
		buffered.WriteString(fragment)
	})

	st, err := c.ctrl.Drive(ctx, c.sessionID, action, present)
	if err != nil {
		fmt.Fprintln(c.out)
		return err
	}
	if streaming {
		fmt.Fprintln(c.out)
	} else {
		c.render(buffered.String())
	}
	slog.DebugContext(ctx, "turn complete", slogx.LoggerName("console"), slogx.Session(st.ID), slogx.Phase(st.Phase))
	return nil
}

func (c *Console) render(text string) {
	out, err := c.glam.Render(text)
	if err != nil {
		fmt.Fprintln(c.out, text)
		return
	}
	fmt.Fprint(c.out, out)
}

func (c *Console) apply(ctx context.Context, action turn.Action, done string) error {
	if _, err := c.ctrl.Execute(ctx, c.sessionID, action, nil); err != nil {
		return err
	}
	fmt.Fprintln(c.out, color.GreenString(done))
	return nil
}

func (c *Console) listModels(ctx context.Context) error {
	st, err := c.ctrl.State(ctx, c.sessionID)
	if err != nil {
		return err
	}
	for i, desc := range c.models.Descriptors() {
		marker := " "
		if desc.DisplayKey == st.ModelKey {
			marker = color.GreenString("*")
		}
		fmt.Fprintf(c.out, "%s %2d. %s %s\n", marker, i+1, desc.DisplayKey, color.HiBlackString("(%s)", describe(desc.Capabilities)))
	}
	return nil
}

func describe(caps provider.Capabilities) string {
	if caps.Streaming {
		return caps.Inputs.String() + ", streaming"
	}
	return caps.Inputs.String()
}

func (c *Console) selectModel(ctx context.Context, arg string) error {
	key := arg
	descs := c.models.Descriptors()
	if idx, err := strconv.Atoi(arg); err == nil {
		if idx < 1 || idx > len(descs) {
			return fmt.Errorf("model index must be between 1 and %d", len(descs))
		}
		key = descs[idx-1].DisplayKey
	}
	if key == "" {
		return errors.New("usage: /model <key|index>")
	}

	st, err := c.ctrl.Execute(ctx, c.sessionID, turn.SelectModel{Key: key}, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s %s\n", color.GreenString("Model:"), st.ModelKey)
	c.printConversation(st)
	if st.Phase == session.UserMessageRecorded {
		return c.respond(ctx, nil, st.Streaming)
	}
	return nil
}

func (c *Console) printConversation(st *session.State) {
	for _, msg := range st.Conversation {
		text := msg.Content.PlainText()
		if _, ok := msg.Content.Image(); ok {
			text += " " + color.HiBlackString("[image]")
		}
		if _, ok := msg.Content.Audio(); ok {
			text += " " + color.HiBlackString("[audio]")
		}
		if msg.Role == messages.User {
			fmt.Fprintf(c.out, "%s: %s\n", color.CyanString("User"), text)
			continue
		}
		fmt.Fprintf(c.out, "%s: %s\n", color.MagentaString("Assistant"), text)
	}
}

func (c *Console) help() {
	fmt.Fprintln(c.out, `Commands:
  /models                      list models
  /model <key|index>           switch model
  /temp <0..1>                 set temperature
  /stream on|off               toggle streaming
  /persona <name> [text]       default, creative, analytical or custom with instructions
  /image <path>                attach an image to the next message
  /audio <path>                attach audio to the next message
  /clear                       delete this model's history
  /new                         start a new conversation
  /state                       dump the session
  /quit                        leave`)
}

func parseToggle(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	default:
		return false, errors.New("usage: /stream on|off")
	}
}

func readAttachment(path string) ([]byte, string, error) {
	if path == "" {
		return nil, "", errors.New("a file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	mimeType, _, _ = strings.Cut(mimeType, ";")
	return data, mimeType, nil
}
