package risk

import (
	"regexp"

	"github.com/kardolus/shellpilot/agent/types"
)

const (
	CategoryDestructive = "destructive"
	CategoryFilesystem  = "filesystem"
	CategorySystem      = "system"
	CategoryNetwork     = "network"
	CategoryPackage     = "package"
	CategoryProcess     = "process"
	CategoryPrivilege   = "privilege"
	CategoryObfuscation = "obfuscation"
	CategoryRemoteExec  = "remote-exec"
	CategoryDatabase    = "database"
	CategoryReadOnly    = "read-only"
	CategoryBlacklist   = "user-blacklist"
	CategoryWhitelist   = "user-whitelist"
	CategoryCompound    = "compound"
	CategoryInvalid     = "invalid"
	CategoryUnknown     = "unrecognized"
)

type rule struct {
	re       *regexp.Regexp
	category string
	reason   string
	warning  string
}

func r(pattern, category, reason, warning string) rule {
	return rule{re: regexp.MustCompile(pattern), category: category, reason: reason, warning: warning}
}

const shells = `(?:sudo\s+)?(?:ba|z|da|k|fi)?sh\b`

var blockedRules = []rule{
	r(`\brm\s+(?:-{1,2}[\w-]+\s+)*(?:/\*?|~/?|\$HOME/?)(?:\s|$)`, CategoryDestructive,
		"recursive removal of the root or home filesystem", ""),
	r(`--no-preserve-root\b`, CategoryDestructive, "explicitly disables root protection", ""),
	r(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`, CategoryProcess, "fork bomb", ""),
	r(`\bmkfs(?:\.\w+)?\s+.*?/dev/`, CategoryDestructive, "formats a block device", ""),
	r(`\bdd\s+.*\bof=/dev/(?:sd|hd|nvme|vd|xvd|mmcblk)`, CategoryDestructive, "writes raw data over a disk", ""),
	r(`>\s*/dev/(?:sd|hd|nvme|vd|xvd|mmcblk)`, CategoryDestructive, "redirects output over a disk", ""),
	r(`\bshred\b.*\s/dev/`, CategoryDestructive, "shreds a block device", ""),
	r(`\bchmod\s+(?:-[a-zA-Z]*\s+)*-[a-zA-Z]*R[a-zA-Z]*\s+(?:0?777|a\+rwx)\s+/(?:\s|$)`, CategoryFilesystem,
		"makes the whole filesystem world-writable", ""),
	r(`\bchown\s+(?:-[a-zA-Z]*\s+)*-[a-zA-Z]*R[a-zA-Z]*\s+\S+\s+/(?:\s|$)`, CategoryFilesystem,
		"changes ownership of the whole filesystem", ""),
}

var obfuscationRules = []rule{
	r(`\bbase64\s+(?:-\w+\s+)*(?:-d|--decode|-D)\b[^|]*\|\s*`+shells, CategoryObfuscation,
		"decodes base64 and pipes it to a shell", "the executed payload is hidden from review"),
	r(`\bxxd\s+(?:-\w+\s+)*-r\b[^|]*\|\s*`+shells, CategoryObfuscation,
		"decodes hex and pipes it to a shell", "the executed payload is hidden from review"),
	r(`\bprintf\s+['"]?(?:\\x[0-9a-fA-F]{2})+`+`[^|]*\|\s*`+shells, CategoryObfuscation,
		"pipes hex-escaped text to a shell", "the executed payload is hidden from review"),
	r(`\beval\s+["']?(?:\$|`+"`"+`)`, CategoryObfuscation,
		"evaluates an expanded variable or substitution", "the evaluated text is only known at run time"),
	r(`\b(?:curl|wget)\b[^|]*\|\s*`+shells, CategoryRemoteExec,
		"pipes a downloaded script straight into a shell", "remote code runs without inspection"),
	r(`\becho\s+[^|]*\|\s*`+shells+`\s*$`, CategoryObfuscation,
		"pipes echoed text to a shell", "the executed payload is hidden from review"),
}

var dangerousRules = []rule{
	r(`\brm\s+(?:-{1,2}[\w-]+\s+)*-[a-zA-Z]*[rRf][a-zA-Z]*\b`, CategoryDestructive,
		"forced or recursive file removal", "deleted files cannot be recovered"),
	r(`\b(?:shutdown|reboot|halt|poweroff)\b`, CategorySystem, "stops or restarts the host", "the session will be lost"),
	r(`\binit\s+[06]\b`, CategorySystem, "changes the runlevel to halt or reboot", "the session will be lost"),
	r(`\bkill(?:all)?\s+(?:-9|-KILL|-SIGKILL)\b`, CategoryProcess, "force-kills processes", ""),
	r(`\bpkill\b`, CategoryProcess, "kills processes by pattern", ""),
	r(`\bsystemctl\s+(?:stop|disable|mask)\b`, CategorySystem, "stops or disables a service", "dependent services may go down"),
	r(`\biptables\s+(?:-F|--flush|-X)\b`, CategoryNetwork, "flushes firewall rules", "the host may become unreachable or exposed"),
	r(`\bufw\s+(?:disable|reset)\b`, CategoryNetwork, "disables the firewall", ""),
	r(`\b(?:userdel|groupdel|deluser)\b`, CategorySystem, "deletes accounts", ""),
	r(`\bpasswd\b`, CategorySystem, "changes account passwords", ""),
	r(`\bchmod\s+(?:-[a-zA-Z]*\s+)*-[a-zA-Z]*R`, CategoryFilesystem, "recursive permission change", ""),
	r(`\bchown\s+(?:-[a-zA-Z]*\s+)*-[a-zA-Z]*R`, CategoryFilesystem, "recursive ownership change", ""),
	r(`\bdd\b.*\bof=`, CategoryDestructive, "raw block copy", "target data is overwritten"),
	r(`\bmkfs`, CategoryDestructive, "creates a filesystem", "existing data on the target is destroyed"),
	r(`\b(?:fdisk|parted|wipefs|sfdisk)\b`, CategoryDestructive, "edits disk partitions", ""),
	r(`\bdocker\s+(?:rm|rmi|system\s+prune|volume\s+(?:rm|prune)|image\s+prune)\b`, CategoryDestructive,
		"removes containers, images or volumes", ""),
	r(`\bkubectl\s+delete\b`, CategoryDestructive, "deletes cluster resources", ""),
	r(`\bgit\s+push\b.*(?:--force\b|\s-f\b)`, CategoryDestructive, "force-pushes history", ""),
	r(`\bgit\s+(?:reset\s+--hard|clean\s+-[a-zA-Z]*f)`, CategoryDestructive, "discards local changes", ""),
	r(`(?i)\bdrop\s+(?:database|table|schema)\b`, CategoryDatabase, "drops database objects", ""),
	r(`(?i)\btruncate\s+table\b`, CategoryDatabase, "truncates a table", ""),
	r(`>\s*/etc/(?:passwd|shadow|sudoers|fstab)\b`, CategorySystem, "overwrites a critical system file", ""),
	r(`\bcrontab\s+-r\b`, CategorySystem, "removes all cron jobs", ""),
}

var cautionRules = []rule{
	r(`\b(?:apt|apt-get|yum|dnf|zypper|apk|pacman|brew|snap)\s+(?:-\S+\s+)*(?:install|remove|purge|autoremove|upgrade|update|add|del|-S\w*)\b`,
		CategoryPackage, "changes installed packages", ""),
	r(`\b(?:pip3?|npm|yarn|pnpm|gem|cargo|go)\s+(?:-\S+\s+)*(?:install|add|uninstall|remove)\b`, CategoryPackage,
		"installs or removes language packages", ""),
	r(`\bsystemctl\s+(?:start|restart|reload|enable|daemon-reload)\b`, CategorySystem, "changes service state", ""),
	r(`\bservice\s+\S+\s+(?:start|restart|reload|stop)\b`, CategorySystem, "changes service state", ""),
	r(`\bfind\b.*\s-(?:delete|exec|execdir)\b`, CategoryFilesystem, "find with side effects", ""),
	r(`\bsed\s+(?:-\w+\s+)*-i`, CategoryFilesystem, "edits files in place", ""),
	r(`(?:^|\s)(?:mv|cp|ln|mkdir|touch|rmdir|rm|tee|truncate|install|rsync|unzip|tar)\s`, CategoryFilesystem,
		"modifies files", ""),
	r(`(?:^|[^0-9&>])>{1,2}\s*[^&\s]`, CategoryFilesystem, "redirects output into a file", ""),
	r(`\b(?:chmod|chown|chgrp)\b`, CategoryFilesystem, "changes permissions or ownership", ""),
	r(`\b(?:useradd|usermod|groupadd|adduser|visudo)\b`, CategorySystem, "changes accounts", ""),
	r(`\bgit\s+(?:commit|push|pull|merge|rebase|checkout|reset|stash|clone)\b`, CategoryFilesystem, "changes a repository", ""),
	r(`\bdocker\s+(?:run|pull|build|start|stop|restart|exec|compose|kill)\b`, CategoryProcess, "changes containers", ""),
	r(`\bkubectl\s+(?:apply|create|scale|rollout|patch|edit)\b`, CategorySystem, "changes cluster state", ""),
	r(`\b(?:curl|wget)\b`, CategoryNetwork, "network transfer", ""),
	r(`\b(?:crontab|mount|umount|sysctl|modprobe|ip\s+(?:link|addr|route)\s+(?:add|del|set))\b`, CategorySystem,
		"changes system configuration", ""),
	r(`\bkill\b`, CategoryProcess, "signals a process", ""),
}

var safeRules = []rule{
	r(`^(?:ls|cat|pwd|whoami|echo|printf|grep|egrep|fgrep|head|tail|wc|sort|uniq|cut|tr|df|du|free|uptime|ps|uname|hostname|id|date|which|whereis|type|env|printenv|stat|file|lsblk|lscpu|lsof|lsmod|ss|netstat|dig|nslookup|host|journalctl|dmesg|history|tree|test|true|false|sleep|nproc|basename|dirname|realpath|readlink|md5sum|sha1sum|sha256sum|diff|cmp|sed|find|top|vmstat|iostat|w|who|last|groups|locale|timedatectl|hostnamectl|getent|less|more|column|jq|yq)(?:\s|$)`,
		CategoryReadOnly, "read-only inspection command", ""),
	r(`^systemctl\s+(?:status|is-active|is-enabled|is-failed|list-units|list-unit-files|show|cat)\b`, CategoryReadOnly,
		"reads service state", ""),
	r(`^docker\s+(?:ps|images|logs|inspect|version|info|stats\s+--no-stream)\b`, CategoryReadOnly, "reads container state", ""),
	r(`^git\s+(?:status|log|diff|show|branch|remote|rev-parse|describe|config\s+--get)\b`, CategoryReadOnly,
		"reads repository state", ""),
	r(`^kubectl\s+(?:get|describe|logs|version|top)\b`, CategoryReadOnly, "reads cluster state", ""),
	r(`^(?:apt|apt-cache)\s+(?:list|show|search|policy)\b`, CategoryReadOnly, "queries package metadata", ""),
	r(`^(?:dpkg\s+-[lLsS]|rpm\s+-q)`, CategoryReadOnly, "queries installed packages", ""),
	r(`^ip\s+(?:-\w+\s+)*(?:a|addr|address|r|route|link)(?:\s+show)?\s*$`, CategoryReadOnly, "reads network configuration", ""),
	r(`^ping\s+.*-c\s*\d+`, CategoryNetwork, "bounded connectivity check", ""),
	r(`^(?:nginx|apachectl|sshd)\s+-t\b`, CategoryReadOnly, "validates configuration", ""),
	r(`^\S+\s+--version\s*$`, CategoryReadOnly, "prints a version", ""),
}

func (ru rule) assessment(level types.RiskLevel) types.RiskAssessment {
	return types.RiskAssessment{
		Level:            level,
		Category:         ru.category,
		Reason:           ru.reason,
		RequiresApproval: level == types.RiskDangerous || level == types.RiskBlocked,
		Warning:          ru.warning,
	}
}
