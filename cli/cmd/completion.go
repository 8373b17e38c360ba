package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `To load completions:

Bash:
   $  source <(webpgp completion bash)

  # To load completions for each session, execute once:
  # Linux:
   $  webpgp completion bash > /etc/bash_completion.d/webpgp
  # macOS:
  $ webpgp completion bash >  $ (brew --prefix)/etc/bash_completion.d/webpgp

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
   $  echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ webpgp completion zsh > "${fpath[1]}/_webpgp"

  # You will need to start a new shell for this setup to take effect.

fish:
   $  webpgp completion fish | source

  # To load completions for each session, execute once:
   $  webpgp completion fish > ~/.config/fish/completions/webpgp.fish

PowerShell:
  PS> webpgp completion powershell | Out-String | Invoke-Expression

  # To load completions for each session, execute once:
  PS> webpgp completion powershell > webpgp.ps1
  PS> . webpgp.ps1
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run:                   generateCompletion,
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

func generateCompletion(cmd *cobra.Command, args []string) {
	switch args[0] {
	case "bash":
		_ = cmd.Root().GenBashCompletion(os.Stdout)
	case "zsh":
		_ = cmd.Root().GenZshCompletion(os.Stdout)
	case "fish":
		_ = cmd.Root().GenFishCompletion(os.Stdout, true)
	case "powershell":
		_ = cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
	}
}
