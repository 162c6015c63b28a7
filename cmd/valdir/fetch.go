package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/openfroyo/diffconf/pkg/remote"
	"github.com/openfroyo/diffconf/pkg/valdir"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// defaultPasswordEnv holds the SSH password when password auth is used.
const defaultPasswordEnv = "VALDIR_SSH_PASSWORD"

// remoteFlags configure how sftp:// inputs are fetched.
type remoteFlags struct {
	keyPath     string
	passwordEnv string
	knownHosts  string
	insecure    bool
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.keyPath, "ssh-key", "", "private key for sftp:// inputs (default: ~/.ssh/id_ed25519, id_rsa or id_ecdsa)")
	cmd.Flags().StringVar(&f.passwordEnv, "ssh-password-env", defaultPasswordEnv, "environment variable holding the SSH password; key auth is used when it is unset")
	cmd.Flags().StringVar(&f.knownHosts, "known-hosts", "", "known_hosts file (default: ~/.ssh/known_hosts)")
	cmd.Flags().BoolVar(&f.insecure, "insecure-ignore-host-key", false, "accept any SSH host key")
}

// config builds the connection settings for loc.
func (f *remoteFlags) config(loc *remote.Location) *remote.Config {
	cfg := remote.DefaultConfig(loc.Host, loc.User)
	cfg.Port = loc.Port
	if f.knownHosts != "" {
		cfg.KnownHostsPath = f.knownHosts
	}
	cfg.StrictHostKeyChecking = !f.insecure
	if password := os.Getenv(f.passwordEnv); f.passwordEnv != "" && password != "" {
		cfg.AuthMethod = remote.AuthMethodPassword
		cfg.Password = password
	} else {
		cfg.PrivateKeyPath = f.keyPath
	}
	return cfg
}

// fetcher downloads sftp:// inputs into a local directory, reusing one
// connection per user and host.
type fetcher struct {
	flags   *remoteFlags
	logger  zerolog.Logger
	dir     string
	clients map[string]*remote.Client
	count   int
}

// fetchInputs replaces every sftp:// path in opts with a downloaded local
// copy. When the archive is remote, lists left empty are fetched from next
// to it. The returned cleanup removes the downloads and closes connections;
// it is never nil.
func fetchInputs(ctx context.Context, flags *remoteFlags, opts *valdir.Options, logger zerolog.Logger) (func(), error) {
	archiveRemote := remote.IsRemote(opts.Archive)
	if !archiveRemote && !remote.IsRemote(opts.CategoryList) && !remote.IsRemote(opts.FileCategoryList) {
		return func() {}, nil
	}

	dir, err := os.MkdirTemp("", "valdir-fetch-")
	if err != nil {
		return func() {}, fmt.Errorf("failed to create download directory: %w", err)
	}
	f := &fetcher{
		flags:   flags,
		logger:  logger,
		dir:     dir,
		clients: make(map[string]*remote.Client),
	}
	cleanup := f.close

	if archiveRemote {
		loc, err := remote.ParseLocation(opts.Archive, currentUser())
		if err != nil {
			cleanup()
			return func() {}, err
		}
		// The archive keeps its name so the lists fetched beside it land
		// where valdir looks for them by default.
		if opts.Archive, err = f.fetch(ctx, loc, loc.Base()); err != nil {
			cleanup()
			return func() {}, err
		}
		if opts.CategoryList == "" {
			opts.CategoryList = loc.Sibling(valdir.DefaultCategoryList).String()
		}
		if opts.FileCategoryList == "" {
			opts.FileCategoryList = loc.Sibling(valdir.DefaultFileCategoryList).String()
		}
	}

	for _, p := range []*string{&opts.CategoryList, &opts.FileCategoryList} {
		if !remote.IsRemote(*p) {
			continue
		}
		loc, err := remote.ParseLocation(*p, currentUser())
		if err != nil {
			cleanup()
			return func() {}, err
		}
		if *p, err = f.fetch(ctx, loc, filepath.Join("lists", strconv.Itoa(f.count), loc.Base())); err != nil {
			cleanup()
			return func() {}, err
		}
	}

	return cleanup, nil
}

// fetch downloads loc to name under the fetch directory and returns the
// local path.
func (f *fetcher) fetch(ctx context.Context, loc *remote.Location, name string) (string, error) {
	client, err := f.client(ctx, loc)
	if err != nil {
		return "", err
	}
	local := filepath.Join(f.dir, name)
	if _, err := client.Download(ctx, loc.Path, local); err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", loc, err)
	}
	f.count++
	return local, nil
}

func (f *fetcher) client(ctx context.Context, loc *remote.Location) (*remote.Client, error) {
	key := fmt.Sprintf("%s@%s:%d", loc.User, loc.Host, loc.Port)
	if c, ok := f.clients[key]; ok {
		return c, nil
	}
	c, err := remote.Dial(ctx, f.flags.config(loc), f.logger)
	if err != nil {
		return nil, err
	}
	f.clients[key] = c
	return c, nil
}

func (f *fetcher) close() {
	for key, c := range f.clients {
		if err := c.Close(); err != nil {
			f.logger.Debug().Err(err).Str("host", key).Msg("Failed to close connection")
		}
	}
	if err := os.RemoveAll(f.dir); err != nil {
		f.logger.Warn().Err(err).Str("dir", f.dir).Msg("Failed to remove download directory")
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
