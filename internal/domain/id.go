package domain

import "github.com/bwmarrin/snowflake"

var idNode *snowflake.Node

func init() {
	idNode, _ = snowflake.NewNode(1)
}

// NextID returns a process-unique snowflake ID for audit records.
func NextID() int64 {
	return idNode.Generate().Int64()
}
