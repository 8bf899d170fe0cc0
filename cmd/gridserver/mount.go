package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridcore/server/pkg/ecode"
	"github.com/gridcore/server/pkg/model"
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Manage special collections (mounted filesystems and linked collections)",
	Long: `mount mirrors the original mcollUtil verbs: register a
collection path as a MOUNTED_FS or LINKED_COLL special collection,
remove that association, or report whether one is currently set.`,
}

var mountCreateCmd = &cobra.Command{
	Use:   "create COLLECTION_PATH TARGET",
	Short: "Mount COLLECTION_PATH as a special collection pointing at TARGET",
	Args:  cobra.ExactArgs(2),
	RunE:  runMountCreate,
}

var mountRemoveCmd = &cobra.Command{
	Use:   "remove COLLECTION_PATH",
	Short: "Unmount COLLECTION_PATH, reverting it to an ordinary collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runMountRemove,
}

var mountCheckCmd = &cobra.Command{
	Use:   "check COLLECTION_PATH",
	Short: "Report whether COLLECTION_PATH is a special collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runMountCheck,
}

var mountKind string

func init() {
	mountCreateCmd.Flags().StringVar(&mountKind, "kind", "mounted-fs", "special collection kind: mounted-fs or linked")

	mountCmd.AddCommand(mountCreateCmd)
	mountCmd.AddCommand(mountRemoveCmd)
	mountCmd.AddCommand(mountCheckCmd)
}

func runMountCreate(cmd *cobra.Command, args []string) error {
	collectionPath, target := args[0], args[1]

	var kind model.SpecialCollectionKind
	switch mountKind {
	case "mounted-fs":
		kind = model.SCMountedFS
	case "linked":
		kind = model.SCLinkedColl
	default:
		return fmt.Errorf("unrecognized --kind %q (want mounted-fs or linked)", mountKind)
	}

	ctx := cmd.Context()
	comp, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer comp.Close()

	collRow, err := comp.catalog.ResolveCollection(ctx, collectionPath)
	if err != nil {
		if !ecode.IsCode(err, ecode.CodeCatNoRowsFound) {
			return err
		}
		collID, cerr := comp.catalog.CreateCollection(ctx, model.CollectionRow{Path: collectionPath})
		if cerr != nil {
			return cerr
		}
		collRow = &model.CollectionRow{CollectionID: collID, Path: collectionPath}
	}

	sc := model.SpecialCollection{CollectionID: collRow.CollectionID, Kind: kind}
	if kind == model.SCLinkedColl {
		sc.TargetPath = target
	} else {
		sc.Path = target
	}
	if err := comp.catalog.CreateSpecialCollection(ctx, sc); err != nil {
		return err
	}

	fmt.Printf("mounted %s as %s -> %s\n", collectionPath, kind, target)
	return nil
}

func runMountRemove(cmd *cobra.Command, args []string) error {
	collectionPath := args[0]
	ctx := cmd.Context()
	comp, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer comp.Close()

	collRow, err := comp.catalog.ResolveCollection(ctx, collectionPath)
	if err != nil {
		return err
	}
	if err := comp.catalog.RemoveSpecialCollection(ctx, collRow.CollectionID); err != nil {
		return err
	}
	fmt.Printf("unmounted %s\n", collectionPath)
	return nil
}

func runMountCheck(cmd *cobra.Command, args []string) error {
	collectionPath := args[0]
	ctx := cmd.Context()
	comp, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer comp.Close()

	collRow, err := comp.catalog.ResolveCollection(ctx, collectionPath)
	if err != nil {
		return err
	}
	sc, err := comp.catalog.GetSpecialCollection(ctx, collRow.CollectionID)
	if err != nil {
		if ecode.IsCode(err, ecode.CodeCatNoRowsFound) {
			fmt.Printf("%s is an ordinary collection\n", collectionPath)
			return nil
		}
		return err
	}

	target := sc.Path
	if sc.Kind == model.SCLinkedColl {
		target = sc.TargetPath
	}
	fmt.Printf("%s is a %s special collection -> %s\n", collectionPath, sc.Kind, target)
	return nil
}
