package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/auth-gateway/internal/business"
	"github.com/openkcm/auth-gateway/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Auth Gateway migrations",
		"Applies the user profile schema to the PostgreSQL profile store.",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
