package modules

import (
	"fmt"
	"sort"

	"github.com/vbox-sb-manager/tools/src/pkg/utils"
)

// ModuleParameters holds module parameters given on the command line as
// module.key=value, grouped by module.
type ModuleParameters map[string][]string

func NewModuleParameters() ModuleParameters {
	return make(map[string][]string)
}

func (i *ModuleParameters) Set(value string) error {
	module, keyValue, found := utils.Cut(value, ".")
	if !found {
		return fmt.Errorf("modules: cannot parse module parameter %s, must be of form module.key=value", value)
	}
	moduleParamKey, moduleParamVal, found := utils.Cut(keyValue, "=")
	if !found || len(moduleParamKey) == 0 || len(moduleParamVal) == 0 {
		return fmt.Errorf("modules: cannot parse module parameter %s, must be of form module.key=value", value)
	}
	(*i)[module] = append((*i)[module], keyValue)
	return nil
}

func (i *ModuleParameters) String() string {
	if i == nil {
		return ""
	}
	var modules []string
	for m := range *i {
		modules = append(modules, m)
	}
	sort.Strings(modules)
	var s string
	for _, m := range modules {
		for _, kv := range (*i)[m] {
			if s != "" {
				s += ","
			}
			s += m + "." + kv
		}
	}
	return s
}

// For returns the key=value parameters of module.
func (i ModuleParameters) For(module string) []string {
	return i[module]
}
