package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/px-dev/px/internal/canon"
	"github.com/px-dev/px/internal/dispatch"
	"github.com/px-dev/px/internal/publish"
	"github.com/px-dev/px/internal/statemachine"
)

// newPublishCmd uploads dist/'s built artifacts to a package index.
// Uploading is an external collaborator (internal/publish.Publisher) this
// binary does not implement a concrete client for; NullPublisher fails
// closed naming the missing piece, the same posture
// internal/migrate.NullImporter takes for legacy-format import.
func newPublishCmd() *cobra.Command {
	var indexURL string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "upload dist/'s built artifacts to a package index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdctx := buildCommandContext()
			dir, err := currentProjectDir()
			if err != nil {
				return err
			}
			a, err := newApp(cmdctx, dir)
			if err != nil {
				return err
			}
			defer a.close()

			if indexURL == "" {
				indexURL = defaultIndexURL()
			}
			outcome, err := runProjectCommand(cmd.Context(), cmdctx, dir, statemachine.CmdPublish, publishTransition(dir, indexURL))
			return finish(cmdctx, outcome, err)
		},
	}
	cmd.Flags().StringVar(&indexURL, "index-url", "", "package index to publish to (default: PX_INDEX_URL or pypi.org)")
	return cmd
}

func publishTransition(dir, indexURL string) dispatch.Transition {
	var publisher publish.Publisher = publish.NullPublisher{}
	return func(ctx context.Context, status statemachine.ProjectStatus) (dispatch.ExecutionOutcome, error) {
		arts, err := distArtifacts(dir)
		if err != nil {
			return dispatch.ExecutionOutcome{}, err
		}
		if len(arts) == 0 {
			return dispatch.ExecutionOutcome{}, &publish.NotConfigured{IndexURL: indexURL}
		}
		for _, art := range arts {
			if err := publisher.Publish(ctx, indexURL, art); err != nil {
				return dispatch.ExecutionOutcome{}, err
			}
		}
		return dispatch.ExecutionOutcome{Message: "published to " + indexURL}, nil
	}
}

func distArtifacts(dir string) ([]publish.Artifact, error) {
	distDir := filepath.Join(dir, "dist")
	entries, err := os.ReadDir(distDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var arts []publish.Artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(distDir, e.Name())
		digest, err := canon.DigestFile(path)
		if err != nil {
			return nil, err
		}
		arts = append(arts, publish.Artifact{Path: path, Filename: e.Name(), SHA256: digest})
	}
	return arts, nil
}
