package scheduler

const TaskAutoAssign = "confirmation.auto_assign"

const TaskDuplicateSweep = "orders.duplicate_sweep"

const TaskClassifySweep = "customers.classify_sweep"
