package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL1    Platform = "wsl1"
	PlatformWSL2    Platform = "wsl2"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

// cached detection result
var detectedPlatform Platform
var detectionDone bool

// Detect returns the current platform, caching the result
func Detect() Platform {
	if detectionDone {
		return detectedPlatform
	}

	detectedPlatform = detectPlatform()
	detectionDone = true
	return detectedPlatform
}

// detectPlatform performs the actual platform detection
func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		// Could be native Linux or WSL - check further
		return detectLinuxOrWSL()
	default:
		return PlatformUnknown
	}
}

// detectLinuxOrWSL distinguishes between native Linux and WSL (1 or 2)
func detectLinuxOrWSL() Platform {
	// Quick check: WSL_DISTRO_NAME is set in WSL environments
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return detectWSLVersion()
	}

	procVersion, err := os.ReadFile("/proc/version")
	if err != nil {
		return PlatformLinux
	}

	versionStr := string(procVersion)
	if strings.Contains(versionStr, "microsoft") || strings.Contains(versionStr, "Microsoft") {
		return detectWSLVersion()
	}

	return PlatformLinux
}

// detectWSLVersion distinguishes between WSL1 and WSL2
func detectWSLVersion() Platform {
	// WSL2 kernels carry "microsoft-standard"; WSL1 has "Microsoft" without it
	procVersion, err := os.ReadFile("/proc/version")
	if err == nil {
		versionStr := string(procVersion)
		if strings.Contains(versionStr, "microsoft-standard") {
			return PlatformWSL2
		}
		if strings.Contains(versionStr, "Microsoft") {
			return PlatformWSL1
		}
	}

	// /run/WSL exists only in WSL2
	if _, err := os.Stat("/run/WSL"); err == nil {
		return PlatformWSL2
	}

	// /dev/vsock is virtualization-specific, present in WSL2
	if _, err := os.Stat("/dev/vsock"); err == nil {
		return PlatformWSL2
	}

	// Default to WSL1 if we detected WSL but can't determine version
	return PlatformWSL1
}

// IsWSL returns true if running in any WSL environment
func IsWSL() bool {
	p := Detect()
	return p == PlatformWSL1 || p == PlatformWSL2
}

// CaseInsensitiveFS reports whether file paths on this platform compare
// case-insensitively by default (APFS/HFS+ on macOS, NTFS on Windows).
// Used to normalize cache keys so the same file never appears twice under
// differently-cased paths.
func CaseInsensitiveFS() bool {
	switch Detect() {
	case PlatformMacOS, PlatformWindows:
		return true
	default:
		return false
	}
}

// NormalizeCacheKey converts an absolute file path into a stable cache key.
// On case-insensitive filesystems the key is lower-cased; separators are
// normalized via filepath.Clean either way.
func NormalizeCacheKey(path string) string {
	key := filepath.Clean(path)
	if CaseInsensitiveFS() {
		key = strings.ToLower(key)
	}
	return key
}

// String returns a human-readable platform name
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL1:
		return "WSL1"
	case PlatformWSL2:
		return "WSL2"
	case PlatformWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// CheckFsnotifySupport checks if a path's filesystem supports fsnotify events
// reliably. Returns a warning message if on a problematic filesystem (9p, nfs,
// cifs, sshfs), or an empty string if fsnotify should work normally. This helps
// users understand why watch mode might miss changes in WSL2 or network mounts.
func CheckFsnotifySupport(path string) string {
	// Only relevant on Linux (WSL2 uses 9p for Windows filesystem access)
	if runtime.GOOS != "linux" {
		return ""
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}

	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return "" // Can't read mounts, assume OK
	}

	// Parse /proc/mounts to find the filesystem type for the path.
	// Format: device mountpoint fstype options ...
	// Longest matching mountpoint wins.
	var matchedMount, matchedFsType string
	for _, line := range strings.Split(string(mounts), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mountPoint := fields[1]
		fsType := fields[2]

		if strings.HasPrefix(absPath, mountPoint) {
			if len(mountPoint) > len(matchedMount) {
				matchedMount = mountPoint
				matchedFsType = fsType
			}
		}
	}

	if matchedFsType == "" {
		return ""
	}

	switch {
	case matchedFsType == "9p":
		return "Sessions root on 9p mount (WSL2 Windows filesystem): watch mode disabled. Re-run the index command to refresh."
	case matchedFsType == "nfs" || matchedFsType == "nfs4":
		return "Sessions root on NFS mount: watch mode may miss changes. Re-run the index command to refresh."
	case matchedFsType == "cifs" || matchedFsType == "smbfs":
		return "Sessions root on CIFS/SMB mount: watch mode may miss changes. Re-run the index command to refresh."
	case strings.HasPrefix(matchedFsType, "fuse.sshfs"):
		return "Sessions root on SSHFS mount: watch mode disabled. Re-run the index command to refresh."
	}

	return ""
}
