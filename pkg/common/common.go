package common

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var snowflakeNode *snowflake.Node

func init() {
	var err error
	snowflakeNode, err = snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
}

// UUIDint64 returns a new snowflake id.
func UUIDint64() int64 {
	return snowflakeNode.Generate().Int64()
}

// UUID returns a new snowflake id in base58 string form.
func UUID() string {
	return snowflakeNode.Generate().Base58()
}

// Sha256HashWithSalt hashes value+salt with sha256 and returns hex.
func Sha256HashWithSalt(value string, salt string) string {
	sum := sha256.Sum256([]byte(value + salt))
	return hex.EncodeToString(sum[:])
}

// GetSecretSalt reads the password salt from the environment, with a
// development fallback.
func GetSecretSalt() string {
	if s := strings.TrimSpace(os.Getenv("ACAITERIA_SECRET_SALT")); s != "" {
		return s
	}
	return "acaiteria-default-salt"
}
