// Package sftptest drives an in-process sftp.Server with a real
// github.com/pkg/sftp client, the way
// _examples/jpillora-sshd-lite/xssh/sftp.go drives a remote server —
// except the server under test here is this module's own, connected
// over an in-memory pipe instead of a live SSH channel.
package sftptest

import (
	"io"

	"github.com/pkg/sftp"

	sshdsftp "github.com/sshcore/sshd/sftp"
)

// Dial starts srvCfg's sftp.Server over an in-memory pipe and returns
// a connected *sftp.Client talking to it. The caller must call the
// returned close func when done; it stops the server and closes the
// client.
func Dial(srvCfg sshdsftp.Config) (client *sftp.Client, closeFn func() error, err error) {
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	srv := sshdsftp.NewServer(serverRead, serverWrite, srvCfg)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	c, err := sftp.NewClientPipe(clientRead, clientWrite)
	if err != nil {
		serverWrite.Close()
		clientWrite.Close()
		return nil, nil, err
	}

	closeFn = func() error {
		err := c.Close()
		clientWrite.Close()
		<-serveErr
		return err
	}
	return c, closeFn, nil
}
