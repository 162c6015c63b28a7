package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// TransferError wraps a failed remote operation.
type TransferError struct {
	// Op is the operation that failed (e.g., "connect", "download").
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary marks errors worth retrying, such as network failures.
	IsTemporary bool

	// IsAuthError marks authentication and host key failures.
	IsAuthError bool
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Client downloads files from one host over SFTP.
type Client struct {
	config *Config
	logger zerolog.Logger

	ssh  *ssh.Client
	sftp *sftp.Client
}

// Dial connects to the host in cfg and starts an SFTP session.
func Dial(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, &TransferError{Op: "connect", Err: err}
	}

	clientConfig, err := cfg.clientConfig()
	if err != nil {
		return nil, &TransferError{Op: "connect", Err: err, IsAuthError: true}
	}

	c := &Client{
		config: cfg,
		logger: logger.With().Str("component", "remote").Str("host", cfg.Address()).Logger(),
	}
	c.logger.Debug().Msg("Establishing SSH connection")

	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		client, err := ssh.Dial("tcp", cfg.Address(), clientConfig)
		done <- result{client, err}
	}()

	select {
	case <-ctx.Done():
		// Close a connection that completes after we gave up.
		go func() {
			if r := <-done; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, &TransferError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case r := <-done:
		if r.err != nil {
			return nil, &TransferError{Op: "connect", Err: r.err, IsTemporary: true}
		}
		c.ssh = r.client
	}

	c.sftp, err = sftp.NewClient(c.ssh)
	if err != nil {
		_ = c.ssh.Close()
		return nil, &TransferError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}

	c.logger.Info().Msg("SSH connection established")
	return c, nil
}

// Close ends the SFTP session and the SSH connection.
func (c *Client) Close() error {
	return errors.Join(c.sftp.Close(), c.ssh.Close())
}

// Download copies remotePath to localPath, creating parent directories.
// It returns the number of bytes written. A partial file is removed.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) (int64, error) {
	start := time.Now()

	src, err := c.sftp.Open(remotePath)
	if err != nil {
		return 0, &TransferError{Op: "download", Err: fmt.Errorf("failed to open %s: %w", remotePath, err)}
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, &TransferError{Op: "download", Err: fmt.Errorf("failed to create local directory: %w", err)}
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return 0, &TransferError{Op: "download", Err: fmt.Errorf("failed to create local file: %w", err)}
	}

	written, err := copyWithContext(ctx, dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(localPath)
		return written, &TransferError{
			Op:          "download",
			Err:         fmt.Errorf("failed to copy %s: %w", remotePath, err),
			IsTemporary: !errors.Is(err, context.Canceled),
		}
	}

	c.logger.Info().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", written).
		Dur("duration", time.Since(start)).
		Msg("File downloaded")

	return written, nil
}

// Exists reports whether remotePath exists.
func (c *Client) Exists(remotePath string) (bool, error) {
	_, err := c.sftp.Stat(remotePath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, &TransferError{Op: "stat", Err: err, IsTemporary: true}
	}
}

// copyWithContext copies src to dst, checking ctx between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
