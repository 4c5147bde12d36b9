package bot

import "strings"

// ParseCallback splits callback data of the form "<action>:<value>".
func ParseCallback(data string) (action, value string, ok bool) {
	action, value, ok = strings.Cut(data, ":")
	if !ok || action == "" || value == "" {
		return "", "", false
	}
	return action, value, true
}

// ParseTitleArg normalizes the free-text argument of /details.
func ParseTitleArg(args string) (string, bool) {
	title := strings.Join(strings.Fields(args), " ")
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)
	return title, title != ""
}
