// Package server wires the transport (golang.org/x/crypto/ssh),
// user-authentication service, connection-layer channel multiplexer,
// and embedded SFTP subsystem into one listening SSH daemon (§6).
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jpillora/jplog"
	"golang.org/x/crypto/ssh"

	"github.com/sshcore/sshd/auth"
	"github.com/sshcore/sshd/channel"
	"github.com/sshcore/sshd/key"
	"github.com/sshcore/sshd/server/admin"
	"github.com/sshcore/sshd/session"
	"github.com/sshcore/sshd/sftp"
)

// KeyProvider supplies host keys for the transport's key exchange
// (§6). *key.FileKeyProvider is the default, file-backed
// implementation; embedders may substitute an HSM- or KMS-backed one.
type KeyProvider interface {
	LoadKeys() ([]ssh.Signer, error)
}

// Config configures one listening Server. Fields tagged for
// github.com/jpillora/opts mirror the teacher's flag surface, extended
// with the authentication, channel, and SFTP knobs this daemon adds.
type Config struct {
	Host string `opts:"help=listening interface (defaults to all)"`
	Port string `opts:"short=p,help=listening port (defaults to 22 then fallsback to 2200)"`

	Shell   string `opts:"help=the shell to use for remote sessions,env=SHELL,default=bash/powershell"`
	WorkDir string `opts:"name=workdir,help=working directory for sessions,default=current directory"`

	KeyFile   string `opts:"name=keyfile,help=a filepath to a private host key"`
	KeySeed   string `opts:"name=keyseed,env,help=a string to use to seed deterministic key generation"`
	KeySeedEC bool   `opts:"name=keyseed-ec,env,help=use elliptic curve (ed25519) for generated keys"`

	AuthorizedKeysFile string `opts:"name=authorized-keys,help=path to an authorized_keys file, reloaded on change"`
	PasswordAuth       string `opts:"name=password,help=a username:password pair accepted for authentication"`
	NoClientAuth       bool   `opts:"name=no-auth,help=disable client authentication; WARNING: very insecure"`
	MaxAuthAttempts    int    `opts:"name=max-auth-tries,help=maximum authentication attempts per connection"`

	KeepAlive     int    `opts:"name=keepalive,help=server keep alive interval seconds (0 to disable)"`
	IgnoreEnv     bool   `opts:"name=noenv,help=ignore environment variables provided by the client"`
	SFTP          bool   `opts:"short=s,help=enable the embedded SFTP subsystem"`
	SFTPRoot      string `opts:"name=sftp-root,help=jail SFTP clients beneath this directory"`
	TCPForwarding bool   `opts:"name=tcp-forwarding,short=t,help=enable TCP forwarding (both local and reverse)"`

	LogVerbose bool `opts:"name=verbose,short=v,help=verbose logs"`
	LogQuiet   bool `opts:"name=quiet,short=q,help=no logs"`

	AdminPort int `opts:"name=admin-port,help=loopback gRPC health port (0 disables, -1 picks a free port)"`

	// programmatic-only fields, not exposed as flags
	Logger           *slog.Logger                `opts:"-"`
	KeyProvider      KeyProvider                 `opts:"-"`
	PasswordAuthFn   auth.PasswordAuthenticator  `opts:"-"`
	PublicKeyAuthFn  auth.PublickeyAuthenticator `opts:"-"`
	CommandFactory   channel.CommandFactory      `opts:"-"`
	ForwardingFilter channel.ForwardingFilter    `opts:"-"`
}

// Server is a listening SSH daemon combining transport, user
// authentication, channel multiplexing, and (optionally) SFTP.
type Server struct {
	config    Config
	sshConfig *ssh.ServerConfig
	authSvc   *auth.Service

	connWG sync.WaitGroup
}

// NewServer builds a Server from c, loading or generating the host
// key and constructing the authentication service's ssh.ServerConfig.
func NewServer(c Config) (*Server, error) {
	if c.Logger == nil && !c.LogQuiet {
		h := jplog.Handler(os.Stdout)
		if c.LogVerbose {
			h = h.Verbose()
		}
		c.Logger = slog.New(h)
	}

	kp := c.KeyProvider
	if kp == nil {
		kp = &key.FileKeyProvider{Path: c.KeyFile, Seed: c.KeySeed, EC: c.KeySeedEC}
	}
	signers, err := kp.LoadKeys()
	if err != nil {
		return nil, fmt.Errorf("server: loading host keys: %w", err)
	}

	authCfg := auth.Config{
		NoClientAuth: c.NoClientAuth,
		MaxAttempts:  c.MaxAuthAttempts,
		AuthLog: func(user, method string, sess *session.Session, err error) {
			if c.Logger == nil {
				return
			}
			if err != nil {
				c.Logger.Debug(fmt.Sprintf("auth: user=%s method=%s failed: %s", user, method, err))
			} else {
				c.Logger.Debug(fmt.Sprintf("auth: user=%s method=%s ok", user, method))
			}
		},
	}
	if fn := c.PasswordAuthFn; fn != nil {
		authCfg.Password = fn
	} else if c.PasswordAuth != "" {
		authCfg.Password = staticPasswordAuth(c.PasswordAuth)
	}
	if fn := c.PublicKeyAuthFn; fn != nil {
		authCfg.PublicKey = fn
	} else if c.AuthorizedKeysFile != "" {
		store := &key.AuthorizedKeyStore{Path: c.AuthorizedKeysFile}
		authCfg.PublicKey = func(user string, pub ssh.PublicKey, _ *session.Session) (bool, error) {
			return store.Authorized(user, pub)
		}
	}

	authSvc := auth.NewService(authCfg)
	sc := authSvc.BuildServerConfig()
	for _, signer := range signers {
		sc.AddHostKey(signer)
	}

	return &Server{config: c, sshConfig: sc, authSvc: authSvc}, nil
}

// staticPasswordAuth builds a PasswordAuthenticator accepting a single
// "user:password" pair, the form the teacher's CLI accepts directly on
// the command line.
func staticPasswordAuth(pair string) auth.PasswordAuthenticator {
	user, pass := splitPair(pair)
	return func(u, p string, _ *session.Session) (bool, error) {
		return u == user && p == pass, nil
	}
}

func splitPair(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// Start listens on the configured host/port (falling back from 22 to
// 2200 when Port is unset and 22 is unavailable, matching the
// teacher's own fallback).
func (s *Server) Start() error {
	return s.StartContext(context.Background())
}

// StartContext is Start with a cancellation context.
func (s *Server) StartContext(ctx context.Context) error {
	h := s.config.Host
	p := s.config.Port
	var l net.Listener
	var err error
	if p == "" {
		l, err = net.Listen("tcp", h+":22")
		if err != nil {
			l, err = net.Listen("tcp", h+":2200")
			if err != nil {
				return fmt.Errorf("server: failed to listen on 22 and 2200")
			}
		}
	} else {
		l, err = net.Listen("tcp", h+":"+p)
		if err != nil {
			return fmt.Errorf("server: failed to listen on %s: %w", p, err)
		}
	}
	return s.StartWithContext(ctx, l)
}

// StartWith serves on an already-constructed listener, ignoring
// Host/Port.
func (s *Server) StartWith(l net.Listener) error {
	return s.StartWithContext(context.Background(), l)
}

// StartWithContext serves on l until ctx is cancelled. On cancellation
// it stops accepting and waits, with no timeout, for every in-flight
// HandleConn goroutine to return, then returns any non-nil accept
// errors aggregated with multierror.
func (s *Server) StartWithContext(ctx context.Context, l net.Listener) error {
	defer l.Close()
	s.infof("listening on %s", l.Addr())

	var errMu sync.Mutex
	var acceptErrs *multierror.Error

	if s.config.AdminPort != 0 {
		adminPort := s.config.AdminPort
		if adminPort < 0 {
			adminPort = 0
		}
		adm, err := admin.Listen(adminPort)
		if err != nil {
			s.errorf("admin: %s", err)
		} else {
			s.infof("admin health endpoint on %s", adm.Addr())
			go func() {
				if err := adm.Serve(); err != nil {
					s.errorf("admin: serve: %s", err)
				}
			}()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				adm.Stop(stopCtx)
			}()
		}
	}

	go func() {
		<-ctx.Done()
		s.infof("closing server")
		l.Close()
	}()
	for {
		tcpConn, err := l.Accept()
		if err != nil {
			if opErr, ok := err.(*net.OpError); ok && opErr.Err.Error() == "use of closed network connection" {
				s.connWG.Wait()
				errMu.Lock()
				defer errMu.Unlock()
				return acceptErrs.ErrorOrNil()
			}
			s.errorf("accept: %s", err)
			errMu.Lock()
			acceptErrs = multierror.Append(acceptErrs, err)
			errMu.Unlock()
			continue
		}
		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			s.HandleConn(tcpConn)
		}()
	}
}

// HandleConn performs the transport handshake on an already-accepted
// net.Conn and, on success, serves the connection-layer multiplexer
// until the client disconnects. Exported so embedders can drive their
// own listener (e.g. a unix socket, or one multiplexed behind another
// protocol) instead of calling Start.
func (s *Server) HandleConn(tcpConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(tcpConn, s.sshConfig)
	if err != nil {
		if err != io.EOF {
			s.errorf("handshake failed: %s", err)
		}
		return
	}
	defer s.authSvc.Forget(sshConn)
	s.debugf("new connection from %s (%s)", sshConn.RemoteAddr(), sshConn.ClientVersion())

	cf := s.config.CommandFactory
	if cf == nil {
		cf = channel.NewOSCommandFactory(s.config.Shell, s.config.WorkDir)
	}

	cfg := channel.Config{
		Logger:           s.config.Logger,
		KeepAlive:        time.Duration(s.config.KeepAlive) * time.Second,
		IgnoreEnv:        s.config.IgnoreEnv,
		Shell:            s.config.Shell,
		Session:          true,
		Commands:         cf,
		LocalForwarding:  s.config.TCPForwarding,
		RemoteForwarding: s.config.TCPForwarding,
		Forwarding:       s.config.ForwardingFilter,
	}
	if s.config.SFTP {
		cfg.Subsystems = map[string]channel.SubsystemHandler{
			"sftp": s.sftpSubsystem,
		}
	}

	mux := channel.New(sshConn, chans, reqs, cfg)
	mux.Serve()
}

// sftpSubsystem wires an accepted "subsystem" request for "sftp" to a
// dedicated sftp.Server reading and writing the session channel
// directly; it runs in its own goroutine so the subsystem reply isn't
// held up waiting for the client to disconnect.
func (s *Server) sftpSubsystem(sess *channel.Session, req *channel.Request) error {
	root := s.config.SFTPRoot
	if root == "" {
		root = s.config.WorkDir
	}
	srv := sftp.NewServer(sess.Channel, sess.Channel, sftp.Config{
		Logger:  s.config.Logger,
		RootDir: root,
	})
	go func() {
		if err := srv.Serve(); err != nil {
			s.errorf("sftp: %s", err)
		}
		_ = sess.Channel.Close()
	}()
	return nil
}

func (s *Server) debugf(f string, args ...any) {
	if !s.config.LogQuiet && s.config.Logger != nil {
		s.config.Logger.Debug(fmt.Sprintf(f, args...))
	}
}

func (s *Server) infof(f string, args ...any) {
	if !s.config.LogQuiet && s.config.Logger != nil {
		s.config.Logger.Info(fmt.Sprintf(f, args...))
	}
}

func (s *Server) errorf(f string, args ...any) {
	if !s.config.LogQuiet && s.config.Logger != nil {
		s.config.Logger.Error(fmt.Sprintf(f, args...))
	}
}
