// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFlow/services/flow/cache"
	"github.com/AleutianAI/AleutianFlow/services/flow/casekey"
	"github.com/AleutianAI/AleutianFlow/services/flow/storage/filestore"
)

// ErrAmbiguousKey is returned when a key prefix matches several records.
var ErrAmbiguousKey = errors.New("key prefix matches more than one record")

// recordInfo is the listing form of a record.
type recordInfo struct {
	Key     string    `json:"key"`
	Entity  string    `json:"entity,omitempty"`
	Version string    `json:"version,omitempty"`
	Codec   string    `json:"codec,omitempty"`
	Created time.Time `json:"created,omitempty"`
	Size    int       `json:"size"`
	Error   string    `json:"error,omitempty"`
}

func newCacheCmd(a *app) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the persistent cache",
		Long: `Commands for listing, showing and removing persisted records.

Subcommands:
  ls     - List records
  show   - Show one record's metadata
  rm     - Remove records
  prune  - Remove all records of an entity, or corrupt records
  watch  - Print records as they are written or removed (file backend)`,
	}

	var lsEntity string
	var lsJSON bool
	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List persisted records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listRecords(cmd.Context(), lsEntity, lsJSON)
		},
	}
	lsCmd.Flags().StringVar(&lsEntity, "entity", "", "Only list records of this entity")
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "Output as JSON")

	showCmd := &cobra.Command{
		Use:   "show KEY",
		Short: "Show a record's metadata",
		Long: `Show the metadata of one record. KEY may be a unique prefix of
at least 4 characters.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showRecord(cmd.Context(), args[0])
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm KEY...",
		Short: "Remove records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.removeRecords(cmd.Context(), args)
		},
	}

	var pruneEntity string
	var pruneCorrupt bool
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove all records of an entity and/or corrupt records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pruneEntity == "" && !pruneCorrupt {
				return errors.New("prune needs --entity or --corrupt")
			}
			return a.prune(cmd.Context(), pruneEntity, pruneCorrupt)
		},
	}
	pruneCmd.Flags().StringVar(&pruneEntity, "entity", "", "Entity whose records to remove")
	pruneCmd.Flags().BoolVar(&pruneCorrupt, "corrupt", false, "Also remove corrupt records")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print records as other processes write or remove them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx)
		},
	}

	cacheCmd.AddCommand(lsCmd, showCmd, rmCmd, pruneCmd, watchCmd)
	return cacheCmd
}

func (a *app) listRecords(ctx context.Context, entity string, asJSON bool) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	var infos []recordInfo
	err = store.Records(ctx, func(key casekey.Key, r *cache.Record, rerr error) error {
		switch {
		case rerr != nil && !errors.Is(rerr, cache.ErrCorruptRecord):
			return rerr
		case rerr != nil:
			// Corrupt records have no entity, so an entity filter hides them.
			if entity == "" {
				infos = append(infos, recordInfo{Key: string(key), Error: rerr.Error()})
			}
		case entity == "" || r.Entity == entity:
			infos = append(infos, recordInfo{
				Key:     string(key),
				Entity:  r.Entity,
				Version: r.Version,
				Codec:   r.Codec,
				Created: r.Created(),
				Size:    len(r.Payload),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		if infos == nil {
			infos = []recordInfo{}
		}
		return enc.Encode(infos)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tENTITY\tVERSION\tCODEC\tCREATED\tSIZE")
	for _, info := range infos {
		if info.Error != "" {
			fmt.Fprintf(tw, "%s\t<corrupt>\t\t\t\t\n", casekey.Key(info.Key).Short())
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			casekey.Key(info.Key).Short(), info.Entity, info.Version, info.Codec,
			info.Created.Format(time.RFC3339), info.Size)
	}
	return tw.Flush()
}

func (a *app) showRecord(ctx context.Context, prefix string) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	key, err := resolveKey(ctx, store, prefix)
	if err != nil {
		return err
	}
	r, err := store.Inspect(ctx, key)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "key:      %s\n", r.Key)
	fmt.Fprintf(a.stdout, "entity:   %s\n", r.Entity)
	fmt.Fprintf(a.stdout, "version:  %s\n", r.Version)
	fmt.Fprintf(a.stdout, "codec:    %s\n", r.Codec)
	fmt.Fprintf(a.stdout, "created:  %s\n", r.Created().Format(time.RFC3339))
	fmt.Fprintf(a.stdout, "checksum: %s\n", r.Checksum)
	fmt.Fprintf(a.stdout, "size:     %d\n", len(r.Payload))
	return nil
}

func (a *app) removeRecords(ctx context.Context, prefixes []string) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	for _, prefix := range prefixes {
		key, err := resolveKey(ctx, store, prefix)
		if err != nil {
			return err
		}
		if err := store.Purge(ctx, key); err != nil {
			return fmt.Errorf("remove %s: %w", key.Short(), err)
		}
		fmt.Fprintf(a.stdout, "removed %s\n", key)
	}
	return nil
}

func (a *app) prune(ctx context.Context, entity string, corrupt bool) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	n, err := store.PruneEntity(ctx, entity, corrupt)
	if err != nil {
		return err
	}
	a.logger.Info("pruned cache",
		"entity", entity,
		"corrupt", corrupt,
		"removed", n,
	)
	fmt.Fprintf(a.stdout, "removed %d record(s)\n", n)

	if c, ok := store.Persistent().(compactor); ok && n > 0 {
		files, err := c.Compact(ctx)
		if err != nil {
			return fmt.Errorf("compact after prune: %w", err)
		}
		a.logger.Debug("compacted cache", "files_rewritten", files)
	}
	return nil
}

// compactor is a persistent tier that can reclaim space after deletes.
type compactor interface {
	Compact(ctx context.Context) (int, error)
}

// ErrWatchUnsupported is returned by watch for backends other than file.
var ErrWatchUnsupported = errors.New("watch needs the file cache backend")

func (a *app) watch(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	fs, ok := store.Persistent().(*filestore.Store)
	if !ok {
		return ErrWatchUnsupported
	}
	a.logger.Info("watching cache", "dir", fs.Root())
	return fs.Watch(ctx, func(c filestore.Change) error {
		if c.Op == filestore.ChangeRemoved {
			fmt.Fprintf(a.stdout, "%s\t%s\n", c.Op, c.Key)
			return nil
		}
		r, err := store.Inspect(ctx, c.Key)
		if err != nil {
			// Removed again or still being replaced; report what is known.
			fmt.Fprintf(a.stdout, "%s\t%s\t<unreadable>\n", c.Op, c.Key)
			return nil
		}
		fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", c.Op, c.Key, r.Entity)
		return nil
	})
}

// minKeyPrefix keeps accidental one-letter prefixes from matching.
const minKeyPrefix = 4

// resolveKey expands a unique key prefix to a full case key.
func resolveKey(ctx context.Context, store *cache.Store, prefix string) (casekey.Key, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if casekey.Key(prefix).Valid() {
		return casekey.Key(prefix), nil
	}
	if len(prefix) < minKeyPrefix {
		return "", fmt.Errorf("key prefix %q is shorter than %d characters", prefix, minKeyPrefix)
	}
	if store.Persistent() == nil {
		return "", cache.ErrNoPersistentTier
	}

	var matches []casekey.Key
	err := store.Persistent().List(ctx, func(key casekey.Key) error {
		if strings.HasPrefix(string(key), prefix) {
			matches = append(matches, key)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", cache.ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousKey, prefix)
	}
}
