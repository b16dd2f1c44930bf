package exec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
)

// Pusher is the optional file-transfer capability of a runner.
type Pusher interface {
	Push(ctx context.Context, localPath, remotePath string) error
}

// Push uploads a local file to the remote target over SFTP, reusing the
// runner's connection settings.
func (r *SSHRunner) Push(ctx context.Context, localPath, remotePath string) error {
	client, err := r.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("open sftp: %w", err)
	}
	defer sftpClient.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %q on %s: %w", remotePath, r.target.Host, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("upload %q to %s: %w", localPath, r.target.Host, err)
	}
	return ctx.Err()
}

// Push copies a local file to another local path, the local-mode
// equivalent of the SFTP upload.
func (r *LocalRunner) Push(_ context.Context, localPath, destPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
