package cmd

import (
	"fmt"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/line"
	"github.com/audiolibrelab/soundlines/internal/service"

	"github.com/spf13/cobra"
)

var linesCmd = &cobra.Command{
	Use:   "lines",
	Short: "List the lines the mixer offers",
	Long: `List the source and target line kinds of the mixer, with the formats and
buffer sizes each supports. With --pipewire the ports of the running
PipeWire/JACK server are listed as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asYAML, _ := cmd.Flags().GetBool("yaml")
		withPipeWire, _ := cmd.Flags().GetBool("pipewire")

		svc, err := service.New(cfg, configPath())
		if err != nil {
			return err
		}
		defer svc.Close()
		catalog := svc.Catalog()

		if asYAML {
			out, err := yaml.Marshal(catalog)
			if err != nil {
				return fmt.Errorf("error marshaling lines: %w", err)
			}
			fmt.Print(string(out))
		} else {
			fmt.Printf("🎵 Mixer %s (%s, driver %s)\n", svc.Mixer().Info().Name, runtime.GOOS, svc.Mixer().Driver().Name())
			fmt.Printf("═══════════════════════════════════════\n\n")
			printInfos("SOURCE LINES", catalog.Source)
			printInfos("TARGET LINES", catalog.Target)
		}

		if withPipeWire {
			return listPipeWirePorts()
		}
		return nil
	},
}

func printInfos(title string, infos []line.Info) {
	fmt.Printf("📋 %s (%d):\n", title, len(infos))
	for i, info := range infos {
		fmt.Printf("  %d. %s\n", i+1, info)
		for _, f := range info.Formats {
			fmt.Printf("     • %s\n", f)
		}
		if info.MaxBufferSize > 0 {
			fmt.Printf("     buffer: %d..%d bytes\n", info.MinBufferSize, info.MaxBufferSize)
		}
	}
	fmt.Println()
}

// listPipeWirePorts lists the ports of the PipeWire/JACK graph and checks
// the configured ports against it
func listPipeWirePorts() error {
	pw := audio.NewPipeWire()
	devices, err := pw.ListDevices()
	if err != nil {
		return fmt.Errorf("failed to get PipeWire ports: %w", err)
	}

	fmt.Printf("📋 PIPEWIRE/JACK PORTS (%d found):\n", len(devices))
	for i, d := range devices {
		side := "target"
		if d.Source {
			side = "source"
		}
		fmt.Printf("  %d. %s [%s]\n", i+1, d.Name, side)
	}

	fmt.Printf("\n🔌 CONFIGURED PORTS:\n")
	for _, p := range cfg.Ports {
		if err := pw.ValidatePort(p.Name); err != nil {
			fmt.Printf("  ⚠️  %s: %v\n", p.Name, err)
			continue
		}
		fmt.Printf("  ✅ %s\n", p.Name)
	}

	fmt.Printf("\n💡 Usage:\n")
	fmt.Printf("  • Reference a port by name in definitions.ports[].name\n")
	fmt.Printf("  • Example: \"Scarlett 2i2 USB:capture_FL\"\n\n")
	return nil
}

func init() {
	linesCmd.Flags().Bool("yaml", false, "print the line catalog as YAML")
	linesCmd.Flags().Bool("pipewire", false, "also list PipeWire/JACK ports")
}
