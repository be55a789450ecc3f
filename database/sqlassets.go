package sqlassets

import _ "embed"

//go:embed schema/loader_registry.sql
var LoaderRegistrySQL string
