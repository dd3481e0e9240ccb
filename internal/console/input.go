package console

import (
	"bufio"
	"context"
	"io"
	"log/slog"
)

// ReadLines reads r line by line on its own goroutine and sends each line on
// the returned channel, which is closed at EOF or when ctx is done. A read
// blocked on r outlives ctx until r yields; the goroutine exits after that.
func ReadLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("[CONSOLE] input error", "error", err)
		}
	}()
	return lines
}
