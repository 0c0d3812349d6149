package gelato

var CanRetry = canRetry
