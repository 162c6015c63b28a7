// Package remote downloads files over SFTP.
//
// Locations are sftp://[user@]host[:port]/path URLs. A Client holds one SSH
// connection and SFTP session and may download any number of files:
//
//	loc, err := remote.ParseLocation("sftp://data.example.com/srv/val.tar", "alice")
//	client, err := remote.Dial(ctx, remote.DefaultConfig(loc.Host, loc.User), logger)
//	defer client.Close()
//	n, err := client.Download(ctx, loc.Path, "val.tar")
//
// Host keys are checked against known_hosts unless StrictHostKeyChecking is
// turned off.
package remote
