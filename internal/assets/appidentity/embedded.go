package appidentityassets

import _ "embed"

// YAML is the embedded copy of `.fulmen/app.yaml` so the binary still knows
// its name and env prefix when run outside the repository.
//
//go:embed app.yaml
var YAML []byte
