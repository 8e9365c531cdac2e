package shuttle

import "shuttle/service/hub/hubpb"

// GetMessageState derives created/deleted from the operation and message kind
// alone; it never looks at stored data.
//
//	merge  + add (or one-phase kind) -> created
//	merge  + remove                  -> deleted
//	delete/revoke/prune + anything   -> deleted
func GetMessageState(msg *hubpb.Message, op Operation) MessageState {
	if op != OperationMerge {
		return StateDeleted
	}
	t := msg.Type()
	if t.Family().TwoPhase() && t.IsRemove() {
		return StateDeleted
	}
	return StateCreated
}
