package root

import (
	"github.com/zenGate-Global/loader-registry/apps/cli/cmd/bootstrap"
	"github.com/zenGate-Global/loader-registry/apps/cli/cmd/loaders"
)

func init() {
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(loaders.Command())
}
