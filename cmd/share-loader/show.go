package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ikh/dicom-share-loader/internal/blob"
	"ikh/dicom-share-loader/internal/decode"
	"ikh/dicom-share-loader/internal/output"
	"ikh/dicom-share-loader/internal/store"
)

type shownInstance struct {
	store.Instance
	// Verified is set by --verify: the blob exists and parses to the same
	// SOP Instance UID.
	Verified *bool  `json:"verified,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

type showResult struct {
	Session   store.Session   `json:"session"`
	Instances []shownInstance `json:"instances"`
}

var showCmd = &cobra.Command{
	Use:   "show SESSION_ID",
	Short: "Show a load session recorded in the manifest",
	Long: `Print a load session from the manifest with its series progress and the
instances it loaded. With --verify every file blob is reopened and parsed.

Example:
  share-loader show --manifest ./manifest.db 2f1c7a1e-...
  share-loader show -c config.yaml --verify 2f1c7a1e-...`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().Bool("verify", false, "reopen and parse every file blob")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.ManifestPath == "" {
		return errors.New("no manifest: set manifest_path in the config or use --manifest")
	}

	manifest, err := store.NewManifestStore(cfg.ManifestPath)
	if err != nil {
		return err
	}
	defer manifest.Close()

	sess, err := manifest.GetSession(ctx, args[0])
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), output.Error(err, nil))
		return err
	}
	instances, err := manifest.ListInstances(ctx, sess.ID)
	if err != nil {
		return err
	}

	result := showResult{Session: sess, Instances: make([]shownInstance, 0, len(instances))}
	verify, _ := cmd.Flags().GetBool("verify")
	var blobs *blob.Store
	if verify {
		if cfg.OutputDir == "" {
			return errors.New("--verify needs output_dir in the config")
		}
		if blobs, err = blob.NewFileStore(cfg.OutputDir); err != nil {
			return err
		}
	}

	for _, inst := range instances {
		shown := shownInstance{Instance: inst}
		if blobs != nil {
			ok, problem := verifyBlob(blobs, inst)
			shown.Verified = &ok
			shown.Problem = problem
		}
		result.Instances = append(result.Instances, shown)
	}

	fmt.Fprintln(cmd.OutOrStdout(), output.Success(result))
	return nil
}

func verifyBlob(blobs *blob.Store, inst store.Instance) (bool, string) {
	r, err := blobs.Open(blob.RefFromURL(inst.BlobURL))
	if err != nil {
		return false, err.Error()
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return false, err.Error()
	}
	part, err := decode.ParsePart(raw)
	if err != nil {
		return false, err.Error()
	}
	if part.SOPUID != "" && part.SOPUID != inst.SOPUID {
		return false, fmt.Sprintf("blob holds %s", part.SOPUID)
	}
	return true, ""
}
