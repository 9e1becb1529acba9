package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration",
	Long:  `Display the resolved configuration with inheritance indicators. Shows which values are inherited from the default profile, set by the selected profile, or built in.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cfg.Inheritance

		fmt.Printf("=== RESOLVED CONFIGURATION (%s) ===\n", cfg.Profile)

		fmt.Printf("\n[Mixer]\n")
		fmt.Printf("name: %s %s\n", cfg.Mixer.Name, getInheritanceIndicator(in.Mixer.Name))
		fmt.Printf("description: %s %s\n", cfg.Mixer.Description, getInheritanceIndicator(in.Mixer.Description))

		fmt.Printf("\n[Driver]\n")
		fmt.Printf("name: %s %s\n", cfg.Driver.Name, getInheritanceIndicator(in.Driver.Name))
		fmt.Printf("speed: %g %s\n", cfg.Driver.Speed, getInheritanceIndicator(in.Driver.Speed))
		fmt.Printf("max_streams: %d %s\n", cfg.Driver.MaxStreams, getInheritanceIndicator(in.Driver.MaxStreams))
		fmt.Printf("sample_rate: %d %s\n", cfg.Driver.SampleRate, getInheritanceIndicator(in.Driver.SampleRate))

		fmt.Printf("\n[Lines]\n")
		fmt.Printf("default_buffer_size: %d %s\n", cfg.Lines.DefaultBufferSize, getInheritanceIndicator(in.Lines.DefaultBufferSize))
		fmt.Printf("max_buffer_size: %d %s\n", cfg.Lines.MaxBufferSize, getInheritanceIndicator(in.Lines.MaxBufferSize))

		fmt.Printf("\n[Ports]\n")
		for i, p := range cfg.Ports {
			fmt.Printf("%d. name: %s %s\n", i, p.Name, getInheritanceIndicator(in.Ports[p.Name]))
			fmt.Printf("   direction: %s\n", p.Direction)
			fmt.Printf("   volume: %.0f\n", p.Volume)
		}

		fmt.Printf("\n[Server]\n")
		fmt.Printf("port: %d %s\n", cfg.Server.Port, getInheritanceIndicator(in.Server.Port))

		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	case "built-in":
		return "[built-in]"
	default:
		return "[unknown]"
	}
}
