// Package clientcmd holds the CLI subcommands that talk to a running relay:
// tailing a session's event stream and inspecting sessions over the admin
// API.
package clientcmd
