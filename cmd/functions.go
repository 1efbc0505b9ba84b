package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "List functions the server can call",
	RunE:  runFunctions,
}

var functionsJSON bool

func init() {
	functionsCmd.Flags().BoolVar(&functionsJSON, "json", false, "Print the schema snapshot as JSON")
	rootCmd.AddCommand(functionsCmd)
}

func runFunctions(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if functionsJSON {
		data, err := json.MarshalIndent(rt.reg.List(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPARAMETERS\tDESCRIPTION")
	fmt.Fprintln(w, "--\t----------\t-----------")
	for _, id := range rt.reg.IDs() {
		def, ok := rt.reg.Get(id)
		if !ok {
			continue
		}
		params := make([]string, 0, len(def.Parameters))
		for name, p := range def.Parameters {
			if p.Required {
				name += "*"
			}
			params = append(params, name)
		}
		sort.Strings(params)
		fmt.Fprintf(w, "%s\t%s\t%s\n", def.ID, strings.Join(params, ","), def.Description)
	}
	w.Flush()
	return nil
}
