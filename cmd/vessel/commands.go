package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/vesselrun/vessel/lib/images"
)

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "vessel",
		Short:         "A minimal container runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		a.pullCommand(),
		a.createCommand(),
		a.runCommand(),
		a.imagesCommand(),
		a.psCommand(),
		a.rmiCommand(),
		a.rmCommand(),
		a.pruneCommand(),
	)

	return root
}

func (a *app) pullCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pull REFERENCE",
		Short: "Pull an image from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := images.ParseReference(args[0])
			if err != nil {
				return err
			}
			if err := a.images.Pull(cmd.Context(), ref); err != nil {
				return err
			}
			fmt.Println(ref.String())
			return nil
		},
	}
}

func (a *app) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create REFERENCE",
		Short: "Create a container from a pulled image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := images.ParseReference(args[0])
			if err != nil {
				return err
			}
			c, err := a.builder.Build(cmd.Context(), ref)
			if err != nil {
				return err
			}
			fmt.Println(c.ID)
			return nil
		},
	}
}

func (a *app) runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run CONTAINER COMMAND [ARGS...]",
		Short: "Run a command inside a container",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := a.runner.Run(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	// Everything after the container id belongs to the container's
	// command, dashes included.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func (a *app) imagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "images",
		Short: "List stored images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			imgs, err := a.lifecycle.ListImages()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "IMAGE\tLAYERS\tSIZE\tCREATED")
			for _, img := range imgs {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
					img.Ref.String(), img.Layers, img.SizeBytes,
					img.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func (a *app) psCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrs, err := a.lifecycle.ListContainers()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONTAINER\tIMAGE\tCREATED")
			for _, c := range ctrs {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					c.ID, c.Image, c.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func (a *app) rmiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rmi REFERENCE",
		Short: "Remove a stored image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := images.ParseReference(args[0])
			if err != nil {
				return err
			}
			return a.lifecycle.DeleteImage(ref)
		},
	}
}

func (a *app) rmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm CONTAINER",
		Short: "Remove a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.lifecycle.DeleteContainer(args[0])
		},
	}
}

func (a *app) pruneCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all containers and images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force && !confirm("This deletes all containers and images. Continue? [y/N] ") {
				fmt.Println("Aborted.")
				return nil
			}

			result, err := a.lifecycle.PruneConfirmed()
			if err != nil {
				return err
			}

			targets := lo.Ternary(result.ContainersDeleted+result.ImagesDeleted == 0, "nothing to delete",
				fmt.Sprintf("%d containers, %d images deleted", result.ContainersDeleted, result.ImagesDeleted))
			fmt.Println(targets)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
