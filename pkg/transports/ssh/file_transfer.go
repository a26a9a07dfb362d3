package ssh

import (
	"errors"
	"io/fs"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
)

// scriptMode keeps uploaded scripts private to the login user.
const scriptMode = 0o700

// remoteFiles is the SFTP side of a run.
type remoteFiles struct {
	sftp *sftp.Client
	dir  string
}

func (c *Client) openFiles() (*remoteFiles, error) {
	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return nil, &TransportError{Op: "sftp", Err: err}
	}
	return &remoteFiles{sftp: client, dir: c.config.RemoteDir}, nil
}

func (f *remoteFiles) Close() error {
	return f.sftp.Close()
}

// writeScript stores body under a fresh name in the remote directory and
// returns its path. The file is created exclusively so a leftover from an
// earlier run is never overwritten.
func (f *remoteFiles) writeScript(body string) (string, error) {
	if err := f.sftp.MkdirAll(f.dir); err != nil {
		return "", &TransportError{Op: "upload", Err: err}
	}

	remotePath := path.Join(f.dir, "inspector-"+uuid.NewString()+".sh")
	file, err := f.sftp.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return "", &TransportError{Op: "upload", Err: err}
	}

	if err := file.Chmod(scriptMode); err != nil {
		_ = file.Close()
		return "", &TransportError{Op: "upload", Err: err}
	}
	if _, err := file.Write([]byte(body)); err != nil {
		_ = file.Close()
		return "", &TransportError{Op: "upload", Err: err}
	}
	if err := file.Close(); err != nil {
		return "", &TransportError{Op: "upload", Err: err}
	}

	return remotePath, nil
}

// remove deletes a remote file. A file that is already gone is not an
// error.
func (f *remoteFiles) remove(remotePath string) error {
	err := f.sftp.Remove(remotePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &TransportError{Op: "cleanup", Err: err}
	}
	return nil
}
