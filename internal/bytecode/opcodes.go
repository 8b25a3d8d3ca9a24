// Package bytecode implements the versioned binary format for the IR: a
// writer that flattens a program into a byte stream, and a two-pass loader
// that rebuilds the graph, resolving scope, function and composite type IDs
// forward-referenced by the encoding.
package bytecode

import "github.com/apoch/fugue/internal/ir"

// Instruction is a one-byte opcode in the serialized stream.
type Instruction byte

// Structural instructions delimit scope records, blocks and tables.
const (
	InsNull Instruction = iota + 1
	InsCurrentScope
	InsScope
	InsParentScope
	InsVariables
	InsGhosts
	InsGhostRecord
	InsFunctions
	InsFunctionSignatureList
	InsFunctionSignatureBegin
	InsFunctionSignatureEnd
	InsTupleTypes
	InsTupleTypeHints
	InsTupleTypeMap
	InsStructureTypes
	InsStructureTypeHints
	InsStructureTypeMap
	InsMembers
	InsConstants
	InsResponseMaps
	InsFutures
	InsListTypes
	InsListSizes
	InsBeginBlock
	InsEndBlock
	InsEndScope
	InsGlobalBlock
	InsCallDLL
	InsExtensionData
)

// Operation instructions, one per IR variant.
const (
	InsPushInteger Instruction = iota + 0x40
	InsPushInteger16
	InsPushReal
	InsPushBoolean
	InsPushString
	InsPushOperation
	InsNoOp
	InsGetValue
	InsAssignValue
	InsInitializeValue
	InsBindReference
	InsBindFunctionReference
	InsSizeOf
	InsReadTuple
	InsAssignTuple
	InsReadStructure
	InsAssignStructure
	InsReadStructureIndirect
	InsAssignStructureIndirect
	InsBindStructMemberRef
	InsSum
	InsSubtract
	InsMultiply
	InsDivide
	InsIsEqual
	InsIsNotEqual
	InsIsGreater
	InsIsGreaterEqual
	InsIsLesser
	InsIsLesserEqual
	InsLogicalAnd
	InsLogicalOr
	InsBitwiseAnd
	InsBitwiseOr
	InsIf
	InsElseIf
	InsElseIfWrapper
	InsExitIfChain
	InsWhile
	InsWhileCondition
	InsDoWhile
	InsExecuteBlock
	InsBreak
	InsReturn
	InsInvoke
	InsInvokeIndirect
	InsForkTask
	InsForkThread
	InsCreateThreadPool
	InsForkFuture
	InsAcceptMessage
	InsAcceptMessageFromMap
	InsSendTaskMessage
	InsGetMessageSender
	InsGetTaskCaller
	InsParallelFor
	InsConsArray
	InsConsArrayIndirect
	InsReadArray
	InsWriteArray
	InsArrayLength
	InsMap
	InsReduce
	InsConcat
	InsLength
	InsTypeCast
	InsTypeCastToString
	InsTypeCastBooleanToString
	InsTypeCastBufferToString
	InsHandoff
	InsHandoffControl
	InsDebugWriteString
	InsDebugReadString
)

// bytecodeCookie opens every stream; a mismatch is an invalid-bytecode
// failure before anything else is read.
var bytecodeCookie = []byte("FUGBIN01")

// flagsUsesConsole is bit 0 of the header flags word.
const flagsUsesConsole uint32 = 1 << 0

// operationOpcodes maps payload tokens to their opcodes.
var operationOpcodes = map[string]Instruction{
	ir.TokenPushInteger:                 InsPushInteger,
	ir.TokenPushInteger16:               InsPushInteger16,
	ir.TokenPushReal:                    InsPushReal,
	ir.TokenPushBoolean:                 InsPushBoolean,
	ir.TokenPushString:                  InsPushString,
	ir.TokenPushOperation:               InsPushOperation,
	ir.TokenNoOp:                        InsNoOp,
	ir.TokenGetVariableValue:            InsGetValue,
	ir.TokenAssignValue:                 InsAssignValue,
	ir.TokenInitializeValue:             InsInitializeValue,
	ir.TokenBindReference:               InsBindReference,
	ir.TokenBindFunctionReference:       InsBindFunctionReference,
	ir.TokenSizeOf:                      InsSizeOf,
	ir.TokenReadTuple:                   InsReadTuple,
	ir.TokenAssignTuple:                 InsAssignTuple,
	ir.TokenReadStructure:               InsReadStructure,
	ir.TokenAssignStructure:             InsAssignStructure,
	ir.TokenReadStructureIndirect:       InsReadStructureIndirect,
	ir.TokenAssignStructureIndirect:     InsAssignStructureIndirect,
	ir.TokenBindStructMemberReference:   InsBindStructMemberRef,
	ir.TokenSum:                         InsSum,
	ir.TokenSubtract:                    InsSubtract,
	ir.TokenMultiply:                    InsMultiply,
	ir.TokenDivide:                      InsDivide,
	ir.TokenEqual:                       InsIsEqual,
	ir.TokenNotEqual:                    InsIsNotEqual,
	ir.TokenGreater:                     InsIsGreater,
	ir.TokenGreaterEqual:                InsIsGreaterEqual,
	ir.TokenLess:                        InsIsLesser,
	ir.TokenLessEqual:                   InsIsLesserEqual,
	ir.TokenLogicalAnd:                  InsLogicalAnd,
	ir.TokenLogicalOr:                   InsLogicalOr,
	ir.TokenBitwiseAnd:                  InsBitwiseAnd,
	ir.TokenBitwiseOr:                   InsBitwiseOr,
	ir.TokenIf:                          InsIf,
	ir.TokenElseIf:                      InsElseIf,
	ir.TokenElseIfWrapper:               InsElseIfWrapper,
	ir.TokenExitIfChain:                 InsExitIfChain,
	ir.TokenWhileLoop:                   InsWhile,
	ir.TokenWhileLoopConditional:        InsWhileCondition,
	ir.TokenDoWhileLoop:                 InsDoWhile,
	ir.TokenExecuteBlock:                InsExecuteBlock,
	ir.TokenBreak:                       InsBreak,
	ir.TokenReturn:                      InsReturn,
	ir.TokenInvoke:                      InsInvoke,
	ir.TokenInvokeIndirect:              InsInvokeIndirect,
	ir.TokenForkTask:                    InsForkTask,
	ir.TokenForkThread:                  InsForkThread,
	ir.TokenCreateThreadPool:            InsCreateThreadPool,
	ir.TokenForkFuture:                  InsForkFuture,
	ir.TokenAcceptMessage:               InsAcceptMessage,
	ir.TokenAcceptMessageFromResponseMap: InsAcceptMessageFromMap,
	ir.TokenSendTaskMessage:             InsSendTaskMessage,
	ir.TokenGetMessageSender:            InsGetMessageSender,
	ir.TokenGetTaskCaller:               InsGetTaskCaller,
	ir.TokenParallelFor:                 InsParallelFor,
	ir.TokenConsArray:                   InsConsArray,
	ir.TokenConsArrayIndirect:           InsConsArrayIndirect,
	ir.TokenReadArray:                   InsReadArray,
	ir.TokenWriteArray:                  InsWriteArray,
	ir.TokenArrayLength:                 InsArrayLength,
	ir.TokenMap:                         InsMap,
	ir.TokenReduce:                      InsReduce,
	ir.TokenConcatenate:                 InsConcat,
	ir.TokenLength:                      InsLength,
	ir.TokenTypeCast:                    InsTypeCast,
	ir.TokenTypeCastToString:            InsTypeCastToString,
	ir.TokenTypeCastBooleanToString:     InsTypeCastBooleanToString,
	ir.TokenTypeCastBufferToString:      InsTypeCastBufferToString,
	ir.TokenHandoff:                     InsHandoff,
	ir.TokenHandoffControl:              InsHandoffControl,
	ir.TokenDebugWriteStringExpression:  InsDebugWriteString,
	ir.TokenDebugReadStaticString:       InsDebugReadString,
}
