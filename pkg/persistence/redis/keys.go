package redis

import "github.com/dukex/tideflow/pkg/models"

// Redis key naming conventions. All keys are prefixed to avoid collisions.
const keyPrefix = "tideflow:"

// workflowKey returns the key of a workflow document: tideflow:workflow:{component#id}
func workflowKey(id models.WorkflowID) string { return keyPrefix + "workflow:" + id.Key() }

// workflowIDsKey is the Set tracking all workflow keys for enumeration.
const workflowIDsKey = keyPrefix + "workflow_ids"

// stateKey returns the key of an active state: tideflow:state:{component#id#parameter}
func stateKey(instance models.WorkflowInstance) string { return keyPrefix + "state:" + instance.Key() }

// stateIDsKey is the Set tracking the instances that have an active state.
const stateIDsKey = keyPrefix + "state_ids"

// eventsKey returns the Sorted Set holding the event log of an instance, scored by counter.
func eventsKey(instance models.WorkflowInstance) string { return keyPrefix + "events:" + instance.Key() }
