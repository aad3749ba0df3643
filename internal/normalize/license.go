package normalize

var licenseCodes = map[string]string{
	"UK Open Government Licence v3":                             "OGL-UK-3.0",
	"Public Domain":                                             "other-pd",
	"Open Data Commons Public Domain Dedication and License":    "PDDL-1.0",
	"Creative Commons 1.0 Universal (Public Domain Dedication)": "CC0-1.0",
}

// License maps a free-text license name to its catalog code. Unknown names
// pass through verbatim.
func License(name string) string {
	if code, ok := licenseCodes[name]; ok {
		return code
	}
	return name
}
