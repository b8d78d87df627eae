package diagnosis

import "strings"

// edrTokens are lower-case fragments of security agent process names.
var edrTokens = []string{
	"msmpeng",
	"mssense",
	"senseir",
	"defender",
	"csfalcon",
	"falcon",
	"crowdstrike",
	"sentinel",
	"cylance",
	"carbonblack",
	"repmgr",
	"sophos",
	"mcafee",
	"symantec",
	"trendmicro",
	"ntrtscan",
	"tmccsf",
	"ekrn",
	"egui",
	"esets_",
	"kaspersky",
	"cortex",
	"cyserver",
	"tanium",
	"qualys",
	"elastic-endpoint",
	"wazuh",
	"osquery",
}

// IsEDRProcess reports whether name looks like a security or EDR agent.
func IsEDRProcess(name string) bool {
	name = strings.ToLower(name)
	if name == "" {
		return false
	}
	for _, token := range edrTokens {
		if strings.Contains(name, token) {
			return true
		}
	}
	return false
}
