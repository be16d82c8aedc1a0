// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luxfi/netevent"
)

const defaultAdminURL = "http://127.0.0.1:9651/rpc"

func newAdminCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Inspect and change a running server through its JSON-RPC admin endpoint",
	}
	cmd.PersistentFlags().String("admin-url", defaultAdminURL, "admin JSON-RPC endpoint")
	mustBindFlag(v, "admin-url", envPrefix+"_ADMIN_URL", cmd.PersistentFlags().Lookup("admin-url"))

	call := func(cmd *cobra.Command, method string, params, reply any) error {
		cmd.SilenceUsage = true
		uri, err := url.Parse(strings.TrimSpace(v.GetString("admin-url")))
		if err != nil {
			return fmt.Errorf("parse admin url: %w", err)
		}
		if err := netevent.SendJSONRequest(cmd.Context(), uri, method, params, reply); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		return printJSON(cmd.OutOrStdout(), reply)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "namespaces",
			Short: "List namespaces and their events",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var reply netevent.NamespacesReply
				return call(cmd, netevent.AdminServiceName+".Namespaces", &netevent.EmptyArgs{}, &reply)
			},
		},
		&cobra.Command{
			Use:   "connected",
			Short: "List connected clients",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var reply netevent.ConnectedReply
				return call(cmd, netevent.AdminServiceName+".Connected", &netevent.EmptyArgs{}, &reply)
			},
		},
		allowCommand("allow", "Allow a connected client to send on an event", netevent.AdminServiceName+".Allow", call),
		allowCommand("disallow", "Revoke a client's permission on an event", netevent.AdminServiceName+".Disallow", call),
		&cobra.Command{
			Use:   "create-namespace NAMESPACE",
			Short: "Create a namespace and announce it to connected clients",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var reply netevent.NamespacesReply
				params := &netevent.CreateNamespaceArgs{Namespace: args[0]}
				return call(cmd, netevent.AdminServiceName+".CreateNamespace", params, &reply)
			},
		},
		createEventCommand(call),
		fireCommand(call),
	)
	return cmd
}

func createEventCommand(call callFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-event NAMESPACE EVENT",
		Short: "Create an event and announce it to connected clients",
		Args:  cobra.ExactArgs(2),
	}
	reliable := cmd.Flags().Bool("reliable", false, "use a reliable channel")
	rateLimit := cmd.Flags().Int("rate-limit", netevent.DefaultRateLimit, "inbound messages per client per second")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var reply netevent.EventReply
		params := &netevent.CreateEventArgs{
			Namespace: args[0],
			Event:     args[1],
			Reliable:  *reliable,
			RateLimit: *rateLimit,
		}
		return call(cmd, netevent.AdminServiceName+".CreateEvent", params, &reply)
	}
	return cmd
}

// fireCommand sends each ARG as JSON when it parses and as a string
// otherwise.
func fireCommand(call callFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fire NAMESPACE EVENT [ARG...]",
		Short: "Send a message on an event to every client, or to one with --client",
		Args:  cobra.MinimumNArgs(2),
	}
	client := cmd.Flags().String("client", "", "send only to this client")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		payload := make(netevent.Args, 0, len(args)-2)
		for _, raw := range args[2:] {
			var v any
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				v = raw
			}
			payload = append(payload, v)
		}
		var reply netevent.FireReply
		params := &netevent.FireArgs{
			Namespace: args[0],
			Event:     args[1],
			Client:    netevent.ClientID(*client),
			Args:      payload,
		}
		return call(cmd, netevent.AdminServiceName+".Fire", params, &reply)
	}
	return cmd
}

type callFunc func(cmd *cobra.Command, method string, params, reply any) error

func allowCommand(use, short, method string, call callFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAMESPACE EVENT CLIENT",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reply netevent.AllowReply
			params := &netevent.AllowArgs{Namespace: args[0], Event: args[1], Client: netevent.ClientID(args[2])}
			return call(cmd, method, params, &reply)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
