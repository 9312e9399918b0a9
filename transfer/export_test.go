package transfer

// TransferHalves skips TransferTransform's lock check, so tests can lock a
// half between the check and the transfer.
var TransferHalves = transferHalves
