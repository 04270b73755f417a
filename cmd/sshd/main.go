// Command sshd runs the SSH daemon implemented by the server package:
// transport, user authentication, connection multiplexing and an
// optional embedded SFTP subsystem, configured entirely from the
// command line via github.com/jpillora/opts.
package main

import (
	"github.com/jpillora/opts"

	"github.com/sshcore/sshd/server"
)

var version = "0.0.0-src" // set via ldflags

type config struct {
	server.Config
}

// Run implements the interface github.com/jpillora/opts looks for on
// the parsed config: opts.Parse(&c).Run() both parses the command
// line and starts serving.
func (c *config) Run() error {
	s, err := server.NewServer(c.Config)
	if err != nil {
		return err
	}
	return s.Start()
}

func main() {
	c := &config{
		Config: server.Config{
			Host:            "0.0.0.0",
			MaxAuthAttempts: 20,
		},
	}
	opts.Parse(c).Run()
}
