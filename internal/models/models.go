// Package models holds the data model shared across packages.
package models

import "time"

// Permission bits. ADMIN implies all others at evaluation time.
const (
	PermSend           = 1 << 0
	PermManageChannels  = 1 << 1
	PermKick            = 1 << 2
	PermBan             = 1 << 3
	PermAdmin           = 1 << 4
)

type User struct {
	ID            string
	PublicKey     []byte
	Fingerprint   string
	DisplayName   string
	RoleBits      int64
	IsOwner       bool
	TOTPSecretEnc []byte
	TOTPEnrolled  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type RotationKind string

const (
	RotationGenesis  RotationKind = "genesis"
	RotationRotation RotationKind = "rotation"
)

type RotationReason string

const (
	ReasonCompromise RotationReason = "compromise"
	ReasonScheduled  RotationReason = "scheduled"
	ReasonDeviceLoss RotationReason = "device_loss"
)

type RotationRecord struct {
	ID             string
	Fingerprint    string
	Kind           RotationKind
	PrevKey        []byte
	NewKey         []byte
	Reason         string
	SigOld         []byte
	SigNew         []byte
	CancelDeadline *time.Time
	Cancelled      bool
	CreatedAt      time.Time
}

type IdentityBlob struct {
	Fingerprint   string
	EncryptedBlob []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	Device    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Challenge struct {
	ID        string
	Bytes     []byte
	ExpiresAt time.Time
}

type ChannelType string

const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
)

type Category struct {
	ID        string
	Name      string
	Position  int64
	CreatedAt time.Time
}

type Channel struct {
	ID          string
	CategoryID  string
	Name        string
	Topic       string
	ChannelType ChannelType
	Position    int64
	CreatedAt   time.Time
}

type Role struct {
	ID             string
	Name           string
	PermissionBits int64
	Color          string
	Position       int64
	IsDefault      bool
}

type Ban struct {
	Fingerprint string
	Reason      string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

type Invite struct {
	Code      string
	CreatedBy string
	MaxUses   *int
	UseCount  int
	ExpiresAt *time.Time
	CreatedAt time.Time
}

type MessageKind string

const (
	MessageKindChat   MessageKind = "chat"
	MessageKindSystem MessageKind = "system"
)

type Message struct {
	ID                int64
	ChannelID         string
	SenderPubKeyHex   string
	SenderDisplayName string
	Kind              MessageKind
	Payload           []byte
	ContentText       string
	TsMs              int64
	SequenceHint      int64
	ServerSequence    int64
	Signature         []byte
	Edited            bool
	EditTs            *int64
	Deleted           bool
	ReplyToID         *int64
}

type Reaction struct {
	MessageID  int64
	UserPubKey string
	Emoji      string
	CreatedAt  time.Time
}

type LastRead struct {
	UserID       string
	ChannelID    string
	LastSequence int64
}

type Block struct {
	HashHex       string
	PlaintextSize int64
	EncryptedSize int64
	ChannelID     *string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

type DMKey struct {
	Ed25519PubKeyHex string
	X25519PubKey     []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type DMConversation struct {
	ID             string
	ParticipantA   string
	ParticipantB   string
	CreatedAt      time.Time
	LastMessageAt  *time.Time
}

type DMMessage struct {
	ID                string
	ConversationID    string
	Sender            string
	Ciphertext        []byte
	Nonce             []byte
	EphemeralPub      []byte
	TsMs              int64
	ServerSequence    int64
	SenderDisplayName string
	CreatedAt         time.Time
}

type DMOfflineEntry struct {
	RecipientPubKey string
	DMMessageID     string
	QueuedAt        time.Time
	Delivered       bool
}
