package relay

import (
	"bufio"
	"context"
	"log/slog"
	"os/exec"
	"time"
)

// runSubprocess executes command/args, streams its combined stdout/stderr
// back to the peer as "output" frames paced c.outputPace apart, then emits a
// terminal "eof" frame carrying the exit status (§4.4 "execute").
func runSubprocess(ctx context.Context, c *connection, id, command string, args []string) {
	cmd := exec.CommandContext(ctx, command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.send(outboundMessage{Type: "error", ID: id, Error: err.Error()})
		return
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		c.send(outboundMessage{Type: "error", ID: id, Error: err.Error()})
		return
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	ticker := time.NewTicker(c.outputPace)
	defer ticker.Stop()

	// pending is drained one line per tick, not flushed in a burst: a
	// fast-emitting subprocess must still be observed at c.outputPace, not
	// all at once every tick (§4.4's throughput cap).
	var pending []string
	linesCh := lines
	doneCh := ctx.Done()
	for linesCh != nil || len(pending) > 0 {
		select {
		case line, ok := <-linesCh:
			if !ok {
				linesCh = nil
				continue
			}
			pending = append(pending, line)
		case <-ticker.C:
			if len(pending) > 0 {
				c.send(outboundMessage{Type: "output", ID: id, Data: pending[0]})
				pending = pending[1:]
			}
		case <-doneCh:
			_ = cmd.Process.Kill()
			doneCh = nil
		}
	}

	err = cmd.Wait()
	status := "0"
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			status = exitErr.Error()
		} else {
			status = err.Error()
		}
	}

	c.logger.Debug("relay: subprocess exited", slog.String("id", id), slog.String("status", status))
	c.send(outboundMessage{Type: "eof", ID: id, Data: status, Success: err == nil})
}
