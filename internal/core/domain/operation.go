package domain

// CliOperation is a single logical administrative request: a fixed
// namespace and subcommand prefix plus the raw, untrusted argument string.
type CliOperation struct {
	Namespace  string `json:"namespace"`
	SubCommand string `json:"sub_command"`
	ArgString  string `json:"args"`
}
