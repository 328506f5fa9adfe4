package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/auth-gateway/internal/business"
	"github.com/openkcm/auth-gateway/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Auth Gateway API server",
		"Auth Gateway API server hosts the public /auth endpoints: login, signup, callback, me and logout.",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
