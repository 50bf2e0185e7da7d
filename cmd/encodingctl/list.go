package main

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/face-attendance/internal/encodingstore"
	"github.com/example/face-attendance/internal/face"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored encoding sets",
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <student_id> <group_id>",
	Short: "Show the encoding set of one student in one group",
	Example: `  encodingctl show S1 3
  encodingctl show S1 3 --descriptors`,
	Args: cobra.ExactArgs(2),
	RunE: runShow,
}

func init() {
	listCmd.Flags().Uint("group", 0, "Only list encodings of this group id")
	showCmd.Flags().Bool("descriptors", false, "Print descriptor values")
}

func runList(cmd *cobra.Command, args []string) error {
	group, _ := cmd.Flags().GetUint("group")

	store, err := openStore()
	if err != nil {
		return err
	}
	objects, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if group != 0 {
		filtered := objects[:0]
		for _, obj := range objects {
			if obj.Key.GroupID == group {
				filtered = append(filtered, obj)
			}
		}
		objects = filtered
	}
	sortObjects(objects)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tSTUDENT\tMODIFIED")
	for _, obj := range objects {
		fmt.Fprintf(w, "%d\t%s\t%s\n", obj.Key.GroupID, obj.Key.StudentID, obj.Modified.UTC().Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d encoding sets\n", len(objects))
	return nil
}

func sortObjects(objects []encodingstore.Object) {
	sort.Slice(objects, func(i, j int) bool {
		if objects[i].Key.GroupID != objects[j].Key.GroupID {
			return objects[i].Key.GroupID < objects[j].Key.GroupID
		}
		return objects[i].Key.StudentID < objects[j].Key.StudentID
	})
}

func parseKey(studentID, group string) (face.EncodingKey, error) {
	groupID, err := strconv.ParseUint(group, 10, 32)
	if err != nil {
		return face.EncodingKey{}, fmt.Errorf("invalid group id %q: %w", group, err)
	}
	key := face.EncodingKey{StudentID: studentID, GroupID: uint(groupID)}
	return key, key.Validate()
}

func runShow(cmd *cobra.Command, args []string) error {
	showDescriptors, _ := cmd.Flags().GetBool("descriptors")
	key, err := parseKey(args[0], args[1])
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	set, err := store.Load(cmd.Context(), key)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(set) == 0 {
		fmt.Fprintf(out, "%s: not registered\n", key)
		return nil
	}

	fmt.Fprintf(out, "%s: %d descriptors, %d dimensions\n", key, len(set), len(set[0]))
	fmt.Fprintf(out, "object: %s\n", encodingstore.ObjectName(key))
	if showDescriptors {
		for i, d := range set {
			fmt.Fprintf(out, "  [%d] %v\n", i, d)
		}
	}
	return nil
}
