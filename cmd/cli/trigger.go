package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"kazi/internal/automation"
	"kazi/internal/services"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	flagEventData  string
	flagEntityID   string
	flagExecutedBy string
	flagOwner      string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Execute or import triggers without the HTTP server",
}

var triggerExecuteCmd = &cobra.Command{
	Use:   "execute <trigger-id>",
	Short: "Run one trigger against a JSON event payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseEventData(flagEventData)
		if err != nil {
			return err
		}
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		res, execErr := a.service.ExecuteTrigger(cmd.Context(), args[0], automation.ExecuteContext{
			EntityID:   flagEntityID,
			EventData:  data,
			ExecutedBy: flagExecutedBy,
		})
		if err := writeJSON(cmd.OutOrStdout(), automation.ToEnvelope(res, execErr)); err != nil {
			return err
		}
		return execErr
	},
}

var triggerImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create triggers from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		reqs, err := parseImport(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		for i := range reqs {
			trig, err := a.service.CreateTrigger(cmd.Context(), flagOwner, &reqs[i])
			if err != nil {
				return fmt.Errorf("trigger %q: %w", reqs[i].Name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", trig.ID, trig.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	triggerCmd.AddCommand(triggerExecuteCmd, triggerImportCmd)

	triggerExecuteCmd.Flags().StringVar(&flagEventData, "data", "", "event payload as a JSON object")
	triggerExecuteCmd.Flags().StringVar(&flagEntityID, "entity-id", "", "entity the event refers to")
	triggerExecuteCmd.Flags().StringVar(&flagExecutedBy, "as", "cli", "performer recorded on the log row")

	triggerImportCmd.Flags().StringVar(&flagOwner, "user", "", "owner user id of the imported triggers")
}

func parseEventData(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	return data, nil
}

// importFile accepts either a bare list or a {triggers: [...]} document.
type importFile struct {
	Triggers []services.CreateTriggerRequest `yaml:"triggers"`
}

func parseImport(raw []byte) ([]services.CreateTriggerRequest, error) {
	var list []services.CreateTriggerRequest
	if err := yaml.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, errors.New("no triggers defined")
		}
		return list, nil
	}
	var doc importFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Triggers) == 0 {
		return nil, errors.New("no triggers defined")
	}
	return doc.Triggers, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
