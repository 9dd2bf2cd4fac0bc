// Package dispatch runs the line-delimited JSON command loop the parent
// process drives. One command arrives per input line; every reply ends
// with the end-of-operation sentinel, preceded by the error sentinel when
// the driver itself failed. Remote exceptions are not driver failures:
// their text passes through verbatim inside the reply.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/paulober/pyboard-serial-com/internal/completion"
	"github.com/paulober/pyboard-serial-com/internal/discovery"
	"github.com/paulober/pyboard-serial-com/internal/events"
	"github.com/paulober/pyboard-serial-com/internal/mpy"
	"github.com/paulober/pyboard-serial-com/internal/progress"
	"github.com/paulober/pyboard-serial-com/internal/protocol"
	"github.com/paulober/pyboard-serial-com/internal/session"
	"github.com/paulober/pyboard-serial-com/internal/transport"
)

// Reply stream sentinels. The parent process scans for these literals,
// so they must never change.
const (
	// EOO terminates every command's reply.
	EOO = "!!EOO!!"

	// ErrSentinel reports a driver-level failure, distinct from a
	// remote exception.
	ErrSentinel = "!!ERR!!"

	jsonDecodeError = "!!JSONDecodeError!!"
	unknownCommand  = "!!Unknown command!!"
)

// command is one decoded request line.
type command struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

type execArgs struct {
	Command string `json:"command"`
}

type targetArgs struct {
	Target string `json:"target"`
}

type filesArgs struct {
	Files []string `json:"files"`
}

type foldersArgs struct {
	Folders []string `json:"folders"`
}

type uploadArgs struct {
	Files        []string `json:"files"`
	Remote       string   `json:"remote"`
	LocalBaseDir string   `json:"local_base_dir"`
	Verbose      bool     `json:"verbose"`
}

type downloadArgs struct {
	Files   []string `json:"files"`
	Local   string   `json:"local"`
	Verbose bool     `json:"verbose"`
}

type renameArgs struct {
	Item struct {
		OldName string `json:"old_name"`
		NewName string `json:"new_name"`
	} `json:"item"`
}

type statArgs struct {
	Item string `json:"item"`
}

type completionArgs struct {
	Line string `json:"line"`
}

// completionReply is the JSON answer to a completion query.
type completionReply struct {
	Type       string `json:"type"`
	Completion string `json:"completion"`
}

// Dispatcher routes decoded commands to a session. It owns the input
// reader for the duration of Run, reading byte at a time so an
// interactive bridge can take over the underlying stream without losing
// buffered data.
type Dispatcher struct {
	sess      *session.Session
	in        io.Reader
	out       io.Writer
	device    string
	publisher events.Publisher
	logger    zerolog.Logger

	// deviceExists is swapped in tests; defaults to discovery.Exists.
	deviceExists func(string) (bool, error)
}

// New creates a dispatcher for an open session. The publisher may be
// nil when nothing subscribes.
func New(sess *session.Session, in io.Reader, out io.Writer, device string, publisher events.Publisher, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sess:         sess,
		in:           in,
		out:          out,
		device:       device,
		publisher:    publisher,
		logger:       logger.With().Str("component", "dispatch").Logger(),
		deviceExists: discovery.Exists,
	}
}

// Run reads commands until exit, input EOF or a fatal device failure.
// The session is closed before Run returns.
func (d *Dispatcher) Run() error {
	defer d.closeSession()

	for {
		line, err := d.readLine()
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		var cmd command
		if jerr := json.Unmarshal([]byte(line), &cmd); jerr != nil {
			d.writeLine(jsonDecodeError)
			continue
		}
		if cmd.Command == "" {
			continue
		}
		if cmd.Command == "exit" {
			return nil
		}

		herr := d.handle(cmd)

		// A remote exception is part of the reply, not a failure.
		var remote *protocol.RemoteError
		if errors.As(herr, &remote) {
			d.write(remote.Text)
			herr = nil
		}

		if herr != nil {
			d.logger.Warn().Str("command", cmd.Command).Err(herr).Msg("command failed")
			d.writeLine(ErrSentinel)
			if errors.Is(herr, transport.ErrDisconnected) {
				d.publish(events.TypeDeviceError, herr.Error())
				d.writeLine(EOO)
				return herr
			}
		}
		d.writeLine(EOO)

		if err != nil {
			// The line was handled but the input stream is done.
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (d *Dispatcher) handle(cmd command) error {
	switch cmd.Command {
	case "command":
		var a execArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		res, err := d.sess.Exec([]byte(a.Command), d.out)
		if err != nil {
			return err
		}
		if !res.Success {
			return &protocol.RemoteError{Text: string(res.ErrText)}
		}
		return nil

	case "command_no_follow":
		var a execArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		return d.sess.ExecDetached([]byte(a.Command))

	case "friendly_command":
		var a execArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		return d.sess.ExecAndWatch([]byte(mpy.WrapFriendly(a.Command)), d.out, nil)

	case "enter_interactive":
		d.publish(events.TypeInteractiveStarted, nil)
		err := d.sess.Interactive(d.in, d.out)
		d.publish(events.TypeInteractiveEnded, nil)
		return err

	case "completion":
		var a completionArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		res, err := d.sess.Completion(a.Line)
		if err != nil {
			return err
		}
		reply := completionReply{Type: "multiline", Completion: res.Text}
		if res.Kind == completion.Simple {
			reply.Type = "simple"
		}
		data, err := json.Marshal(reply)
		if err != nil {
			return err
		}
		d.writeLine(string(data))
		return nil

	case "double_ctrlc":
		return d.sess.Interrupt()

	case "soft_reset":
		return d.sess.SoftReset()

	case "status":
		found, err := d.deviceExists(d.device)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s no longer attached", transport.ErrDisconnected, d.device)
		}
		return nil

	case "list_contents":
		var a targetArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		return d.sess.Files().List(a.Target, d.out)

	case "list_contents_recursive":
		var a targetArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		return d.sess.Files().ListRecursive(a.Target, d.out)

	case "upload_files":
		var a uploadArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		tr := progress.NewTracker(d.progressSink(a.Verbose))
		if a.LocalBaseDir != "" {
			return d.sess.Files().UploadWithBase(a.Files, a.Remote, a.LocalBaseDir, tr)
		}
		return d.sess.Files().Upload(a.Files, a.Remote, tr)

	case "download_files":
		var a downloadArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		tr := progress.NewTracker(d.progressSink(a.Verbose))
		return d.sess.Files().Download(a.Files, a.Local, tr)

	case "delete_files":
		var a filesArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		return d.sess.Files().Remove(a.Files)

	case "mkdirs":
		var a foldersArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		return d.sess.Files().Mkdir(a.Folders)

	case "rmdirs":
		var a foldersArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		return d.sess.Files().Rmdir(a.Folders)

	case "rmtree":
		var a foldersArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil || len(a.Folders) == 0 {
			if err == nil {
				err = errors.New("rmtree needs a folder")
			}
			return err
		}
		return d.sess.Files().RmdirRecursive(a.Folders[0])

	case "calc_file_hashes":
		var a filesArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		return d.sess.Files().Hashes(a.Files, d.out)

	case "rename":
		var a renameArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		out, err := d.sess.Files().Rename(a.Item.OldName, a.Item.NewName)
		if err != nil {
			return err
		}
		d.write(string(out))
		return nil

	case "get_item_stat":
		var a statArgs
		if err := json.Unmarshal(cmd.Args, &a); err != nil {
			return err
		}
		out, err := d.sess.Files().Stat(a.Item)
		if err != nil {
			return err
		}
		d.write(string(out))
		return nil

	default:
		d.writeLine(unknownCommand)
		return nil
	}
}

// progressSink writes one JSON report line per file boundary when
// verbose, and always fans the report out to event subscribers.
func (d *Dispatcher) progressSink(verbose bool) progress.Sink {
	return func(r progress.Report) {
		d.publish(events.TypeTransferProgress, r)
		if !verbose {
			return
		}
		data, err := json.Marshal(r)
		if err != nil {
			return
		}
		d.writeLine(string(data))
	}
}

func (d *Dispatcher) publish(typ events.Type, payload any) {
	if d.publisher == nil {
		return
	}
	d.publisher.Publish(&events.Event{Type: typ, SessionID: d.sess.ID, Payload: payload})
}

func (d *Dispatcher) closeSession() {
	if err := d.sess.Close(); err != nil {
		d.logger.Debug().Err(err).Msg("session close")
	}
	d.publish(events.TypeSessionClosed, nil)
}

// readLine reads one input line byte at a time. Buffered readers would
// steal bytes belonging to a later interactive bridge.
func (d *Dispatcher) readLine() (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := d.in.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return strings.TrimSuffix(string(line), "\r"), nil
			}
			line = append(line, buf[0])
		}
		if err != nil {
			return strings.TrimSuffix(string(line), "\r"), err
		}
	}
}

func (d *Dispatcher) write(s string) {
	if _, err := io.WriteString(d.out, s); err != nil {
		d.logger.Debug().Err(err).Msg("reply write")
	}
}

func (d *Dispatcher) writeLine(s string) {
	d.write(s + "\n")
}
