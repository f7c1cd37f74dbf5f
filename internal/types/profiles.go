package types

// DeviceProfile selects the tuning profile recorded at format time.
type DeviceProfile uint8

const (
	// ProfileGeneric is the default profile for random-access media.
	ProfileGeneric DeviceProfile = iota

	// ProfilePico is the embedded profile: single trajectory candidate,
	// no retry bias, minimal metadata footprint.
	ProfilePico

	// ProfileSystem favors metadata durability over throughput.
	ProfileSystem

	// ProfileAI favors large aligned strides for model/tensor payloads.
	ProfileAI

	// ProfileArchive favors sequential layout for cold data.
	ProfileArchive
)

var profileNames = map[DeviceProfile]string{
	ProfileGeneric: "generic",
	ProfilePico:    "pico",
	ProfileSystem:  "system",
	ProfileAI:      "ai",
	ProfileArchive: "archive",
}

func (p DeviceProfile) String() string {
	if s, ok := profileNames[p]; ok {
		return s
	}
	return "unknown"
}

// ProfileByName resolves a profile from its configuration-file spelling.
// Unrecognized names fall back to ProfileGeneric.
func ProfileByName(name string) DeviceProfile {
	for p, s := range profileNames {
		if s == name {
			return p
		}
	}
	return ProfileGeneric
}

// DeviceTraits holds the mount-time device classifiers the engine consults.
type DeviceTraits struct {
	// Rotational is true for seek-bound media. Trajectory retries are
	// pointless on such media and the retry bias is forced to zero.
	Rotational bool

	// ZNSNative is true for zoned namespace devices. Recorded for the
	// mount collaborator; the core engine does not branch on it.
	ZNSNative bool

	// Profile is the format-time tuning profile.
	Profile DeviceProfile
}

// Capability is the per-volume probe policy derived from the device traits,
// resolved once at mount rather than re-branched per probe.
type Capability struct {
	// MaxRetry is the highest usable trajectory retry index.
	MaxRetry RetryIndex

	// BiasEnabled is false when every retry index must produce the same
	// physical offset (rotational media, Pico profile).
	BiasEnabled bool
}

// CapabilityFor derives the probe capability from the device traits.
// Rotational media and the Pico profile use only retry index 0: wasting
// retries that cannot change the physical offset is forbidden, so the bias
// term is structurally zero, not merely coincident.
func CapabilityFor(traits DeviceTraits) Capability {
	if traits.Rotational || traits.Profile == ProfilePico {
		return Capability{MaxRetry: 0, BiasEnabled: false}
	}
	return Capability{MaxRetry: MaxBallisticRetry, BiasEnabled: true}
}
